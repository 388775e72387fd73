package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/transcache/pkg/encoding"
)

// record is the serialized form of an entry used by the external stores.
type record struct {
	Status    int               `json:"status"`
	Header    http.Header       `json:"header"`
	Bodies    map[string][]byte `json:"bodies"`
	Encodable bool              `json:"encodable"`
	Expires   *time.Time        `json:"expires,omitempty"`
}

func marshalEntry(e *Entry) ([]byte, error) {
	r := record{
		Status:    e.Status,
		Header:    e.Header,
		Bodies:    make(map[string][]byte, len(e.Bodies)),
		Encodable: e.Encodable,
	}
	for enc, b := range e.Bodies {
		r.Bodies[enc.String()] = b
	}
	if !e.Expires.IsZero() {
		r.Expires = &e.Expires
	}
	return json.Marshal(r)
}

func unmarshalEntry(data []byte) (*Entry, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	e := &Entry{
		Status:    r.Status,
		Header:    r.Header,
		Bodies:    make(map[encoding.Encoding][]byte, len(r.Bodies)),
		Encodable: r.Encodable,
	}
	for token, b := range r.Bodies {
		// bodies in encodings unknown to this version are skipped
		if enc, ok := encoding.Parse(token); ok {
			e.Bodies[enc] = b
		}
	}
	if len(e.Bodies) == 0 {
		return nil, ErrNoEncodings
	}
	if r.Expires != nil {
		e.Expires = *r.Expires
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	return e, nil
}
