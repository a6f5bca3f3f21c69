package lgf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid LGF magic")
	ErrUnsupportedMajor = errors.New("unsupported LGF major version")
	ErrCorruptFile      = errors.New("corrupt LGF file")
)
