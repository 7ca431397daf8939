package fitbatch

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"sort"
	"sync"
)

const (
	padBufSize    = 4096
	encodeBufSize = 64 << 10
)

var (
	errFinalised     = errors.New("fitbatch: writer already finalised")
	errSectionOpen   = errors.New("fitbatch: section write in progress")
	errSectionEnded  = errors.New("fitbatch: section writer ended")
	errNotActive     = errors.New("fitbatch: section writer not active")
	errDuplicateType = errors.New("fitbatch: duplicate section type")
)

// Writer builds a batch file in a streaming fashion. Space for the header is
// reserved up front and patched by Finalise.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool
	flags    uint64

	padBuf []byte
	encBuf []byte

	mu sync.Mutex
}

// SectionWriter streams one section payload. It must be ended before the
// next section is started.
type SectionWriter struct {
	w     *Writer
	typ   SectionType
	start int64
	ended bool
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("fitbatch: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, padBufSize),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection writes a whole payload. Each section type may be written once.
func (w *Writer) WriteSection(typ SectionType, data []byte) error {
	sw, err := w.BeginSection(typ)
	if err != nil {
		return err
	}
	if _, err := sw.Write(data); err != nil {
		return err
	}
	return sw.End()
}

// WriteFloat64s writes vals as a little-endian float64 section.
func (w *Writer) WriteFloat64s(typ SectionType, vals []float64) error {
	sw, err := w.BeginSection(typ)
	if err != nil {
		return err
	}
	if err := sw.encode(len(vals), 8, func(dst []byte, i int) {
		binary.LittleEndian.PutUint64(dst, math.Float64bits(vals[i]))
	}); err != nil {
		return err
	}
	return sw.End()
}

// WriteInt32s writes vals as a little-endian int32 section.
func (w *Writer) WriteInt32s(typ SectionType, vals []int32) error {
	sw, err := w.BeginSection(typ)
	if err != nil {
		return err
	}
	if err := sw.encode(len(vals), 4, func(dst []byte, i int) {
		binary.LittleEndian.PutUint32(dst, uint32(vals[i]))
	}); err != nil {
		return err
	}
	return sw.End()
}

func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errFinalised
	}
	w.flags |= flags
	return nil
}

// BeginSection starts streaming a section at the next aligned offset.
func (w *Writer) BeginSection(typ SectionType) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errFinalised
	}
	if w.open != nil {
		return nil, errSectionOpen
	}
	if _, ok := w.seen[typ]; ok {
		return nil, errDuplicateType
	}
	if err := w.alignTo(align); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	sw := &SectionWriter{w: w, typ: typ, start: start}
	w.open = sw
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if err := sw.active(); err != nil {
		return 0, err
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// encode writes n elements of width bytes each, put filling one element.
func (sw *SectionWriter) encode(n, width int, put func(dst []byte, i int)) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if err := sw.active(); err != nil {
		return err
	}
	if sw.w.encBuf == nil {
		sw.w.encBuf = make([]byte, encodeBufSize)
	}
	per := len(sw.w.encBuf) / width
	for i := 0; i < n; i += per {
		m := min(per, n-i)
		buf := sw.w.encBuf[:m*width]
		for k := range m {
			put(buf[k*width:], i+k)
		}
		if err := writeFull(sw.w.f, buf); err != nil {
			return err
		}
	}
	return nil
}

// End records the section in the directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()
	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	sw.w.sections = append(sw.w.sections, Section{
		Type:    uint32(sw.typ),
		Version: sectionVersion,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errSectionEnded
	}
	if sw.w.open != sw {
		return errNotActive
	}
	return nil
}

// Finalise writes the section directory and patches the header. The writer
// must not be used afterwards.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errFinalised
	}
	if w.open != nil {
		return errSectionOpen
	}
	if len(w.sections) == 0 {
		return errors.New("fitbatch: no sections written")
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(align); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	var secBuf [sectionSize]byte
	for i := range w.sections {
		encodeSection(secBuf[:], w.sections[i])
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	hdr := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(dirOffset),
		FileSize:         uint64(fileSize),
		Flags:            w.flags,
	}
	copy(hdr.Magic[:], Magic)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	encodeHeader(hdrBuf[:], hdr)
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if mod := pos % n; mod != 0 {
		return w.writeZeros(int(n - mod))
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		k := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
