package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNoEncodings is returned for an entry without any stored body.
	ErrNoEncodings = errors.New("cache entry has no encodings")
	// ErrBodyTooLarge is returned when a body exceeds the maximum entry size.
	ErrBodyTooLarge = errors.New("body too large")
)

// PiecesError is returned when a response body could not be read into an entry.
// It keeps what was read and what was not, so the response can still be
// forwarded as it was received.
type PiecesError struct {
	Err error
	// Read holds the bytes consumed before the failure.
	Read []byte
	// Rest is the unread remainder of the body.
	Rest io.ReadCloser
}

func (e *PiecesError) Error() string {
	return fmt.Sprintf("read body (%d bytes read): %v", len(e.Read), e.Err)
}

func (e *PiecesError) Unwrap() error {
	return e.Err
}

// Body returns the original body: the bytes already read followed by the rest.
func (e *PiecesError) Body() io.ReadCloser {
	return &piecesBody{
		Reader: io.MultiReader(bytes.NewReader(e.Read), e.Rest),
		rest:   e.Rest,
	}
}

type piecesBody struct {
	io.Reader
	rest io.Closer
}

func (b *piecesBody) Close() error {
	return b.rest.Close()
}
