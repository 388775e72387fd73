// Package transcoding converts a response body between encodings while it is
// being read, one chunk at a time.
package transcoding

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/always-cache/transcache/pkg/encoding"
)

// ChunkSize is the amount of source bytes transformed per read.
const ChunkSize = 32 * 1024

type Mode int

const (
	// ModePassthrough forwards the source as is.
	ModePassthrough Mode = iota
	// ModeEncode encodes an identity source.
	ModeEncode
	// ModeDecode decodes an encoded source to identity.
	ModeDecode
)

func (m Mode) String() string {
	switch m {
	case ModeEncode:
		return "encode"
	case ModeDecode:
		return "decode"
	}
	return "passthrough"
}

// Body is an io.ReadCloser applying one fixed transformation to a source body.
// At most the output of one source chunk is buffered.
type Body struct {
	mode    Mode
	enc     encoding.Encoding
	body    io.ReadCloser
	src     io.Reader
	trailer func() http.Header

	chunk   []byte
	pending bytes.Buffer
	encoder io.WriteCloser
	decoder io.ReadCloser
	eof     bool
	err     error
}

// New creates a body transforming the source. first holds bytes already read
// from body, which are transformed before the rest of it.
// Encoding or decoding Identity is a passthrough.
func New(mode Mode, enc encoding.Encoding, body io.ReadCloser, first []byte) *Body {
	if enc == encoding.Identity {
		mode = ModePassthrough
	}
	if body == nil {
		body = http.NoBody
	}
	src := io.Reader(body)
	if len(first) > 0 {
		src = io.MultiReader(bytes.NewReader(first), body)
	}
	return &Body{mode: mode, enc: enc, body: body, src: src}
}

func Passthrough(body io.ReadCloser, first []byte) *Body {
	return New(ModePassthrough, encoding.Identity, body, first)
}

// Encoding encodes an identity body in enc.
func Encoding(body io.ReadCloser, first []byte, enc encoding.Encoding) *Body {
	return New(ModeEncode, enc, body, first)
}

// Decoding decodes a body in enc to identity.
func Decoding(body io.ReadCloser, first []byte, enc encoding.Encoding) *Body {
	return New(ModeDecode, enc, body, first)
}

// WithTrailer sets the function returning the trailers of the source.
// It is called only once the source is exhausted.
func (b *Body) WithTrailer(trailer func() http.Header) *Body {
	b.trailer = trailer
	return b
}

func (b *Body) Mode() Mode {
	return b.mode
}

// Encoding returns the encoding of the data read from b.
func (b *Body) Encoding(source encoding.Encoding) encoding.Encoding {
	switch b.mode {
	case ModeEncode:
		return b.enc
	case ModeDecode:
		return encoding.Identity
	}
	return source
}

func (b *Body) Read(p []byte) (int, error) {
	switch b.mode {
	case ModeEncode:
		return b.readEncoded(p)
	case ModeDecode:
		return b.readDecoded(p)
	}
	n, err := b.src.Read(p)
	if err == io.EOF {
		b.eof = true
	}
	return n, err
}

func (b *Body) readEncoded(p []byte) (int, error) {
	if b.err != nil && b.pending.Len() == 0 {
		return 0, b.err
	}
	if b.encoder == nil && b.err == nil {
		encoder, err := encoding.NewWriter(b.enc, &b.pending)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.encoder = encoder
		b.chunk = make([]byte, ChunkSize)
	}
	for b.pending.Len() == 0 && b.err == nil {
		n, err := b.src.Read(b.chunk)
		if n > 0 {
			if _, werr := b.encoder.Write(b.chunk[:n]); werr != nil {
				b.err = werr
				break
			}
		}
		if err == io.EOF {
			b.eof = true
			if cerr := b.encoder.Close(); cerr != nil {
				b.err = cerr
			} else {
				b.err = io.EOF
			}
			b.encoder = nil
		} else if err != nil {
			b.err = err
		}
	}
	if b.pending.Len() > 0 {
		return b.pending.Read(p)
	}
	return 0, b.err
}

func (b *Body) readDecoded(p []byte) (int, error) {
	if b.decoder == nil {
		if b.err != nil {
			return 0, b.err
		}
		decoder, err := encoding.NewReader(b.enc, b.src)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.decoder = decoder
	}
	n, err := b.decoder.Read(p)
	if err == io.EOF {
		b.eof = true
	}
	return n, err
}

// Trailer returns the trailers of the source once the body was read to EOF.
func (b *Body) Trailer() http.Header {
	if !b.eof || b.trailer == nil {
		return nil
	}
	return b.trailer()
}

// Close releases the codec and closes the source.
func (b *Body) Close() error {
	var errs []error
	if b.encoder != nil {
		errs = append(errs, b.encoder.Close())
		b.encoder = nil
	}
	if b.decoder != nil {
		errs = append(errs, b.decoder.Close())
		b.decoder = nil
	}
	errs = append(errs, b.body.Close())
	return errors.Join(errs...)
}
