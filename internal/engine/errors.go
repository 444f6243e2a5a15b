package engine

import "errors"

var (
	// ErrNotStarted is returned by operations invoked before Start.
	ErrNotStarted = errors.New("engine not started")
	// ErrAlreadyStarted is returned by a second Start on the same engine.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrEmptyContent rejects a send with no text before any transport call.
	ErrEmptyContent = errors.New("empty message content")
	// ErrUnsupportedMedia rejects a media send whose payload is not an image.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)
