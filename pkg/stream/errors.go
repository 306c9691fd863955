package stream

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidSeek     = errors.New("seek out of range")
	ErrIntegrity       = errors.New("chunk integrity check failed")
	ErrStore           = errors.New("chunk store failure")
	ErrHashChain       = errors.New("cannot resolve chunk hash chain")
	ErrClosed          = errors.New("stream is closed")
)
