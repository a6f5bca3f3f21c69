package lgf

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool
}

// Open maps an LGF file read-only and validates its structure. When the
// platform refuses the mapping, the file is read into memory instead.
// The returned file must be closed to release any mapping.
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
	size := stat.Size()
	if size < lgfHeaderSize || size > int64(int(^uint(0)>>1)) {
		// Too small to hold a header, or not indexable as []byte here.
		return nil, ErrCorruptFile
	}

	if data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		lf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return lf, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenBytes validates an in-memory LGF image, for callers that already hold
// the serialized bytes. The returned file aliases data; it does not copy.
func OpenBytes(data []byte) (*File, error) {
	return parseFileData(data, false)
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < lgfHeaderSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:lgfHeaderSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, fmt.Errorf("%w: file is v%d.%d, runtime supports v%d.x",
			ErrUnsupportedMajor, hdr.Major, hdr.Minor, CurrentMajor)
	}
	if hdr.FileSize != uint64(len(data)) || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections, err := decodeDirectory(data, &hdr)
	if err != nil {
		return nil, err
	}
	return &File{
		Data:     data,
		Header:   &hdr,
		Sections: sections,
		mmapped:  mmapped,
	}, nil
}

// decodeDirectory reads the section directory and checks every entry against
// the file bounds, the header and the directory itself before any section
// payload is touched.
func decodeDirectory(data []byte, hdr *Header) ([]Section, error) {
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*lgfSectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		off := int(dirStart) + i*lgfSectionSize
		sec, ok := decodeSection(data[off : off+lgfSectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		if err := checkSection(&sec, i, uint64(len(data)), uint64(hdr.HeaderSize), dirStart, dirEnd); err != nil {
			return nil, err
		}
		sections[i] = sec
	}
	return sections, nil
}

func checkSection(s *Section, i int, fileSize, headerSize, dirStart, dirEnd uint64) error {
	end := s.Offset + s.Size
	switch {
	case s.Size > fileSize || end < s.Offset || end > fileSize:
		return fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
	case s.Offset < headerSize:
		return fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
	case rangesOverlap(s.Offset, end, dirStart, dirEnd):
		return fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
	case s.Offset%lgfAlign != 0:
		return fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, lgfAlign)
	}
	return nil
}

// Close releases file resources and any mmap backing.
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

// Section returns the first section matching the given type, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering the section payload.
// The caller must not retain this slice after File.Close().
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	start := s.Offset
	end := s.Offset + s.Size
	if end < start || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[int(start):int(end)]
}

// TensorData returns the constant tensor payload section, or nil when the
// graph carries no constants.
func (f *File) TensorData() []byte {
	return f.SectionData(f.Section(SectionTensorData))
}
