package fitbatch

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool
}

// Open maps a batch file read-only and validates its structure. When mmap
// fails the file is read into memory instead. Close releases the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > math.MaxInt {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		bf, parseErr := parse(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return bf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

// OpenReaderAt loads a batch file from r without mapping it.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > math.MaxInt {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrCorruptFile
	}
	if string(hdr.Magic[:]) != Magic {
		return nil, ErrInvalidMagic
	}
	if !hdr.Valid() {
		return nil, ErrCorruptFile
	}
	if !hdr.Compatible() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMajor, hdr.Major)
	}
	size := uint64(len(data))
	if hdr.FileSize != size || uint64(hdr.HeaderSize) > size {
		return nil, ErrCorruptFile
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*sectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > size {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*sectionSize
		s, _ := decodeSection(data[start : start+sectionSize])
		end := s.End()
		switch {
		case s.Size > size || end < s.Offset:
			return nil, fmt.Errorf("%w: section %d size out of range", ErrCorruptFile, i)
		case end > size:
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case s.Offset < uint64(hdr.HeaderSize):
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(s.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case s.Offset%align != 0:
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, align)
		case i > 0 && s.Type <= sections[i-1].Type:
			// Finalise writes the directory sorted by type with no repeats.
			return nil, fmt.Errorf("%w: %s section out of order", ErrCorruptFile, SectionType(s.Type))
		}
		sections[i] = s
	}

	byOffset := slices.Clone(sections)
	slices.SortFunc(byOffset, func(a, b Section) int { return cmp.Compare(a.Offset, b.Offset) })
	for i := 1; i < len(byOffset); i++ {
		if byOffset[i].Offset < byOffset[i-1].End() {
			return nil, fmt.Errorf("%w: %s and %s sections overlap", ErrCorruptFile,
				SectionType(byOffset[i-1].Type), SectionType(byOffset[i].Type))
		}
	}

	f := &File{Data: data, Header: &hdr, Sections: sections, mmapped: mmapped}
	if err := f.checkPayloads(); err != nil {
		return nil, err
	}
	return f, nil
}

// checkPayloads matches the payload sections against the shapes the job
// and result metadata declare.
func (f *File) checkPayloads() error {
	info, err := f.JobInfo()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	n, p, np := info.NumFits, info.NumPoints, info.NumParameters
	if n < 0 || p < 0 || np < 0 || info.UserInfoSize < 0 {
		return fmt.Errorf("%w: negative job shape", ErrCorruptFile)
	}
	sizes := map[SectionType]uint64{
		SectionData:              8 * uint64(n) * uint64(p),
		SectionInitialParameters: 8 * uint64(n) * uint64(np),
	}
	if info.Weights {
		sizes[SectionWeights] = 8 * uint64(n) * uint64(p)
	}
	if info.UserInfoSize > 0 {
		sizes[SectionUserInfo] = uint64(info.UserInfoSize)
	}
	if f.HasResults() {
		raw, err := f.payload(SectionResultInfo)
		if err != nil {
			return fmt.Errorf("%w: results flagged: %w", ErrCorruptFile, err)
		}
		var ri ResultInfo
		if err := json.Unmarshal(raw, &ri); err != nil {
			return fmt.Errorf("%w: result info: %v", ErrCorruptFile, err)
		}
		if ri.NumFits != n || ri.NumParameters != np {
			return fmt.Errorf("%w: results for %d fits of %d parameters, job has %d of %d", ErrCorruptFile, ri.NumFits, ri.NumParameters, n, np)
		}
		sizes[SectionParameters] = 8 * uint64(n) * uint64(np)
		sizes[SectionStates] = 4 * uint64(n)
		sizes[SectionChiSquares] = 8 * uint64(n)
		sizes[SectionIterations] = 4 * uint64(n)
	}

	for t, want := range sizes {
		s := f.Section(t)
		switch {
		case s == nil:
			return fmt.Errorf("%w: %s section missing", ErrCorruptFile, t)
		case s.Size != want:
			return fmt.Errorf("%w: %s section has %d bytes, job declares %d", ErrCorruptFile, t, s.Size, want)
		}
	}
	return nil
}

// Close releases the file and any mapping. Slices returned by SectionData
// are invalid afterwards.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.mmapped = false
	return err
}

// Section returns the section of type t, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy view of the payload of s.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.End()
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[int(s.Offset):int(end)]
}

func (f *File) HasResults() bool {
	return f.Header != nil && f.Header.Flags&FlagHasResults != 0
}

func (f *File) payload(t SectionType) ([]byte, error) {
	s := f.Section(t)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSection, t)
	}
	return f.SectionData(s), nil
}
