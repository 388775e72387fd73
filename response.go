package transcache

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/always-cache/transcache/cache"
	cacheupdate "github.com/always-cache/transcache/pkg/cache-update"
	"github.com/always-cache/transcache/pkg/encoding"
	"github.com/always-cache/transcache/pkg/transcoding"
)

// stream serves an upstream response which is not stored. Identity bodies are
// encoded in the negotiated encoding while they are read, and encoded bodies
// are decoded for clients negotiating identity. Other bodies pass through.
func (s *Service) stream(req *request, res *http.Response) *http.Response {
	encodable := cache.BoolHeader(res.Header, cache.HeaderEncode, s.encodableDefault(req.r, res))
	stripControlHeaders(res.Header)
	if res.Body == nil {
		res.Body = http.NoBody
	}
	if !encodable || req.r.Method == http.MethodHead || !bodyAllowed(res.StatusCode) ||
		res.ContentLength == 0 || res.Header.Get("Content-Range") != "" {
		return res
	}
	source, ok := encoding.FromHeader(res.Header)
	if !ok {
		return res
	}
	addVary(res.Header)

	var body *transcoding.Body
	switch {
	case source == req.accepted:
		return res
	case source == encoding.Identity:
		body = transcoding.Encoding(res.Body, nil, req.accepted)
	case req.accepted == encoding.Identity:
		body = transcoding.Decoding(res.Body, nil, source)
	default:
		return res
	}
	// transports may replace res.Trailer while the body is read
	res.Body = body.WithTrailer(func() http.Header { return res.Trailer })
	encoding.SetHeader(res.Header, body.Encoding(source))
	res.Header.Del("Content-Length")
	res.Header.Del("Content-Digest")
	res.ContentLength = -1
	Transcodes.WithLabelValues(source.String(), req.accepted.String(), body.Mode().String()).Inc()
	return res
}

// encodableDefault decides whether a response may be encoded, unless its
// XX-Encode header says otherwise.
func (s *Service) encodableDefault(r *http.Request, res *http.Response) bool {
	if s.disableEncodingByDefault {
		return false
	}
	if res.ContentLength >= 0 && res.ContentLength < s.minEncodableSize {
		return false
	}
	if s.encodableHook != nil && !s.encodableHook.Encodable(r, res) {
		return false
	}
	return true
}

func stripControlHeaders(header http.Header) {
	header.Del(cache.HeaderCache)
	header.Del(cache.HeaderEncode)
	header.Del(cache.HeaderCacheDuration)
	header.Del(cacheupdate.HeaderName)
}

// addVary marks the response as negotiated on Accept-Encoding.
func addVary(header http.Header) {
	for _, value := range header.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			name = strings.TrimSpace(name)
			if name == "*" || strings.EqualFold(name, "Accept-Encoding") {
				return
			}
		}
	}
	header.Add("Vary", "Accept-Encoding")
}

// notModifiedHeaders are kept from the stored response in a 304 response.
var notModifiedHeaders = []string{
	"Cache-Control",
	"Content-Location",
	"Date",
	"ETag",
	"Expires",
	"Last-Modified",
	"Vary",
}

func notModified(entry *cache.Entry) *http.Response {
	header := http.Header{}
	for _, name := range notModifiedHeaders {
		for _, value := range entry.Header.Values(name) {
			header.Add(name, value)
		}
	}
	if entry.Encodable {
		addVary(header)
	}
	return newResponse(http.StatusNotModified, header, 0)
}

// internalError is served when a stored response cannot be transcoded.
func internalError() *http.Response {
	return newResponse(http.StatusInternalServerError, http.Header{"Content-Length": {"0"}}, 0)
}

func newResponse(status int, header http.Header, contentLength int64) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: contentLength,
	}
}
