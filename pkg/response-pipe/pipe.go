// Package responsepipe runs an http.Handler as if it were an upstream server,
// exposing what it writes as an *http.Response.
package responsepipe

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the amount of body bytes buffered before the response is streamed.
const DefaultThreshold = 64 * 1024

// Transport is an http.RoundTripper backed by a handler.
//
// The response is held back until the handler returns, flushes, or writes more
// than Threshold body bytes. A handler that returns first yields a response with
// a known ContentLength. Otherwise the rest of the body is streamed through a pipe.
type Transport struct {
	Handler   http.Handler
	Threshold int
	Logger    *zerolog.Logger
}

func New(handler http.Handler, threshold int) *Transport {
	return &Transport{Handler: handler, Threshold: threshold}
}

type result struct {
	res *http.Response
	err error
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	logger := log.Logger
	if t.Logger != nil {
		logger = *t.Logger
	}
	results := make(chan result, 1)
	w := &writer{
		req:       req,
		header:    http.Header{},
		threshold: threshold,
		results:   results,
		log:       logger.With().Str("component", "responsepipe").Logger(),
	}
	go w.serve(t.Handler)

	select {
	case r := <-results:
		return r.res, r.err
	case <-req.Context().Done():
		// release a handler still writing into the pipe
		go func() {
			if r := <-results; r.res != nil {
				r.res.Body.Close()
			}
		}()
		return nil, req.Context().Err()
	}
}

// writer is the http.ResponseWriter given to the handler.
type writer struct {
	req       *http.Request
	header    http.Header
	status    int
	buf       bytes.Buffer
	threshold int
	results   chan<- result
	log       zerolog.Logger

	committed bool
	res       *http.Response
	pw        *io.PipeWriter
}

func (w *writer) Header() http.Header {
	return w.header
}

func (w *writer) WriteHeader(statusCode int) {
	if w.status != 0 {
		w.log.Debug().Int("status", statusCode).Msg("Superfluous WriteHeader call")
		return
	}
	// informational responses are not forwarded
	if statusCode >= 100 && statusCode < 200 && statusCode != http.StatusSwitchingProtocols {
		return
	}
	w.status = statusCode
}

func (w *writer) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if !bodyAllowed(w.status) {
		return 0, http.ErrBodyNotAllowed
	}
	if w.req.Method == http.MethodHead {
		return len(b), nil
	}
	if w.committed {
		return w.pw.Write(b)
	}
	w.buf.Write(b)
	if w.buf.Len() > w.threshold {
		if err := w.stream(); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Flush starts streaming the response.
func (w *writer) Flush() {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if !w.committed {
		if err := w.stream(); err != nil {
			w.log.Debug().Err(err).Msg("Could not flush response")
		}
	}
}

func (w *writer) serve(handler http.Handler) {
	defer func() {
		if v := recover(); v != nil {
			w.log.Error().Interface("panic", v).Str("stack", string(debug.Stack())).Msg("Handler panicked")
			w.finish(fmt.Errorf("handler panic: %v", v))
			return
		}
		w.finish(nil)
	}()
	handler.ServeHTTP(w, w.req)
}

func (w *writer) newResponse() *http.Response {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	// Trailer is filled in place by setTrailers once the handler returns.
	res := &http.Response{
		Status:        strconv.Itoa(w.status) + " " + http.StatusText(w.status),
		StatusCode:    w.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        w.header.Clone(),
		ContentLength: -1,
		Trailer:       http.Header{},
		Request:       w.req,
	}
	for _, declared := range res.Header.Values("Trailer") {
		for _, name := range strings.Split(declared, ",") {
			if name = strings.TrimSpace(name); name != "" {
				res.Trailer[http.CanonicalHeaderKey(name)] = nil
			}
		}
	}
	res.Header.Del("Trailer")
	for name := range res.Header {
		if strings.HasPrefix(name, http.TrailerPrefix) {
			res.Header.Del(name)
		}
	}
	if cl, err := strconv.ParseInt(res.Header.Get("Content-Length"), 10, 64); err == nil && cl >= 0 {
		res.ContentLength = cl
	}
	return res
}

// stream sends the response with a piped body and writes out the buffered bytes.
func (w *writer) stream() error {
	pr, pw := io.Pipe()
	w.res = w.newResponse()
	w.res.Body = pr
	w.pw = pw
	w.committed = true
	w.results <- result{res: w.res}

	_, err := w.pw.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

func (w *writer) finish(err error) {
	if !w.committed {
		if err != nil {
			w.results <- result{err: err}
			return
		}
		w.res = w.newResponse()
		w.res.Body = io.NopCloser(bytes.NewReader(w.buf.Bytes()))
		w.res.ContentLength = int64(w.buf.Len())
		if !bodyAllowed(w.status) {
			w.res.Body = http.NoBody
			w.res.ContentLength = 0
		} else if w.req.Method == http.MethodHead {
			w.res.Body = http.NoBody
			w.res.ContentLength = w.newResponse().ContentLength
		}
		w.setTrailers()
		w.results <- result{res: w.res}
		return
	}
	w.setTrailers()
	w.pw.CloseWithError(err)
}

// setTrailers copies the declared trailers and the ones set with http.TrailerPrefix.
func (w *writer) setTrailers() {
	for name := range w.res.Trailer {
		w.res.Trailer[name] = w.header.Values(name)
	}
	for name, values := range w.header {
		if after, ok := strings.CutPrefix(name, http.TrailerPrefix); ok {
			w.res.Trailer[http.CanonicalHeaderKey(after)] = values
		}
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
