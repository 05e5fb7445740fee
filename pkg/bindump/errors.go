package bindump

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid bindump magic")
	ErrUnsupportedVersion = errors.New("unsupported bindump version")
	ErrCorruptFile        = errors.New("corrupt bindump")
	ErrChecksumMismatch   = errors.New("bindump checksum mismatch")
	ErrUnknownID          = errors.New("bindump: unknown program id")
	ErrUnknownGroup       = errors.New("bindump: unknown group id")
)
