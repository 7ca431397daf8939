// Package fitbatch implements the fit batch container file.
//
// A batch file is a single memory-mappable file holding the inputs of a
// batched fit (metadata, data, weights, initial parameters, user info) and,
// once fitted, the per-fit results. Payloads are little-endian float64 or
// int32 arrays, each section starting on a 64-byte boundary.
package fitbatch

import (
	"encoding/binary"
	"errors"
)

// Format constants must never change.
const (
	// Magic is encoded as "LMB\0".
	Magic = "LMB\x00"

	// CurrentMajor changes only with a breaking format change.
	CurrentMajor uint16 = 1

	// CurrentMinor may add optional sections.
	CurrentMinor uint16 = 0

	// FlagHasResults is set when the result sections are present.
	FlagHasResults uint64 = 1 << 0
)

const (
	headerSize  = 40
	sectionSize = 24
	align       = 64

	sectionVersion uint32 = 1
)

var (
	ErrInvalidMagic     = errors.New("invalid fit batch magic")
	ErrUnsupportedMajor = errors.New("unsupported fit batch major version")
	ErrCorruptFile      = errors.New("corrupt fit batch file")
	ErrMissingSection   = errors.New("fit batch section missing")
	ErrNoResults        = errors.New("fit batch has no results")
)

type SectionType uint32

const (
	SectionJobInfo           SectionType = 0x0001
	SectionData              SectionType = 0x0002
	SectionWeights           SectionType = 0x0003
	SectionInitialParameters SectionType = 0x0004
	SectionUserInfo          SectionType = 0x0005

	SectionResultInfo SectionType = 0x0010
	SectionParameters SectionType = 0x0011
	SectionStates     SectionType = 0x0012
	SectionChiSquares SectionType = 0x0013
	SectionIterations SectionType = 0x0014
)

func (t SectionType) String() string {
	switch t {
	case SectionJobInfo:
		return "job_info"
	case SectionData:
		return "data"
	case SectionWeights:
		return "weights"
	case SectionInitialParameters:
		return "initial_parameters"
	case SectionUserInfo:
		return "user_info"
	case SectionResultInfo:
		return "result_info"
	case SectionParameters:
		return "parameters"
	case SectionStates:
		return "states"
	case SectionChiSquares:
		return "chi_squares"
	case SectionIterations:
		return "iterations"
	default:
		return "unknown"
	}
}

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == Magic && h.HeaderSize >= headerSize && h.SectionCount > 0
}

func (h *Header) Compatible() bool { return h.Major == CurrentMajor }

// Section is one entry of the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 { return s.Offset + s.Size }

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	le := binary.LittleEndian
	copy(dst[0:4], h.Magic[:])
	le.PutUint16(dst[4:6], h.Major)
	le.PutUint16(dst[6:8], h.Minor)
	le.PutUint32(dst[8:12], h.HeaderSize)
	le.PutUint32(dst[12:16], h.SectionCount)
	le.PutUint64(dst[16:24], h.SectionDirOffset)
	le.PutUint64(dst[24:32], h.FileSize)
	le.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	le := binary.LittleEndian
	copy(h.Magic[:], src[0:4])
	h.Major = le.Uint16(src[4:6])
	h.Minor = le.Uint16(src[6:8])
	h.HeaderSize = le.Uint32(src[8:12])
	h.SectionCount = le.Uint32(src[12:16])
	h.SectionDirOffset = le.Uint64(src[16:24])
	h.FileSize = le.Uint64(src[24:32])
	h.Flags = le.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Type)
	le.PutUint32(dst[4:8], s.Version)
	le.PutUint64(dst[8:16], s.Offset)
	le.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < sectionSize {
		return Section{}, false
	}
	le := binary.LittleEndian
	return Section{
		Type:    le.Uint32(src[0:4]),
		Version: le.Uint32(src[4:8]),
		Offset:  le.Uint64(src[8:16]),
		Size:    le.Uint64(src[16:24]),
	}, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
