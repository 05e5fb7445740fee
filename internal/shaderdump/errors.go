package shaderdump

import "errors"

var (
	ErrNotLoaded  = errors.New("shaderdump: no dump loaded")
	ErrShortRead  = errors.New("shaderdump: short read")
	ErrSlotClosed = errors.New("shaderdump: registry closed")
)
