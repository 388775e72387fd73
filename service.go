// Package transcache is an HTTP response cache which stores one representation
// of each response and serves it in whichever content encoding the client
// prefers, converting between encodings on demand.
package transcache

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/transcache/cache"
	cachekey "github.com/always-cache/transcache/pkg/cache-key"
	cacheupdate "github.com/always-cache/transcache/pkg/cache-update"
	"github.com/always-cache/transcache/pkg/encoding"
	"github.com/always-cache/transcache/pkg/preferences"
	responsepipe "github.com/always-cache/transcache/pkg/response-pipe"
	"github.com/always-cache/transcache/rfc9110"
	"github.com/always-cache/transcache/rfc9111"
	"github.com/always-cache/transcache/rfc9211"
)

const tracerName = "github.com/always-cache/transcache"

// Service is the caching layer. It is an http.RoundTripper in front of an
// upstream, and an http.Handler when used with Middleware or an upstream
// transport.
type Service struct {
	cache     cache.Cache
	upstream  http.RoundTripper
	log       zerolog.Logger
	name      string
	encodings []encoding.Encoding
	entryOpts cache.EntryOptions

	minBodySize              int64
	maxBodySize              int64
	minEncodableSize         int64
	keyHook                  cachekey.Hook
	cacheableHook            CacheableHook
	encodableHook            EncodableHook
	disableEncodingByDefault bool
	disableInvalidation      bool

	// invalidations counts the invalidations made so far. A lookup does not
	// write back if it changed since the lookup started.
	invalidations atomic.Uint64

	tracer trace.Tracer
}

// New creates the service.
func New(config Config) *Service {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "transcache").Logger()

	s := &Service{
		cache:                    config.Cache,
		upstream:                 config.Upstream,
		log:                      logger,
		name:                     config.Name,
		encodings:                config.Encodings,
		minBodySize:              config.MinBodySize,
		maxBodySize:              config.MaxBodySize,
		minEncodableSize:         config.MinEncodableSize,
		keyHook:                  config.KeyHook,
		cacheableHook:            config.CacheableHook,
		encodableHook:            config.EncodableHook,
		disableEncodingByDefault: config.DisableEncodingByDefault,
		disableInvalidation:      config.DisableInvalidation,
		tracer:                   otel.Tracer(tracerName),
	}
	if s.cache == nil {
		memory, err := cache.NewMemoryCache(cache.DefaultMaxEntries, 0, &logger)
		if err != nil {
			// only fails for a negative size
			panic(err)
		}
		s.cache = memory
	}
	if s.upstream == nil {
		s.upstream = http.DefaultTransport
	}
	if s.name == "" {
		s.name = "transcache"
	}
	if len(s.encodings) == 0 {
		s.encodings = DefaultEncodings
	}
	if s.maxBodySize == 0 {
		s.maxBodySize = DefaultMaxBodySize
	}
	codec := config.Codec
	if codec == nil {
		codec = encoding.Default
	}
	s.entryOpts = cache.EntryOptions{
		StoreIdentity: config.StoreIdentity,
		Duration:      config.DefaultDuration,
		Codec:         codec,
	}
	if s.maxBodySize > 0 {
		s.entryOpts.MaxBodySize = s.maxBodySize
	}
	return s
}

// Cache returns the store used by the service.
func (s *Service) Cache() cache.Cache {
	return s.cache
}

// RoundTrip answers the request from the cache or from the upstream.
// Upstream errors are returned unchanged.
func (s *Service) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.call(req, s.upstream)
}

// ServeHTTP implements the http.Handler interface, forwarding misses to the
// configured upstream.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.upstream)
}

// Middleware caches the responses of next.
func (s *Service) Middleware(next http.Handler) http.Handler {
	// buffer every storable body so that it gets a Content-Length
	threshold := math.MaxInt
	if s.maxBodySize > 0 {
		threshold = int(s.maxBodySize) + 1
	}
	upstream := &responsepipe.Transport{Handler: next, Threshold: threshold, Logger: &s.log}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, upstream)
	})
}

func (s *Service) serve(w http.ResponseWriter, r *http.Request, upstream http.RoundTripper) {
	res, err := s.call(r, upstream)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response from upstream")
		}
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, res, s.log)
}

// request holds the state of one call.
type request struct {
	r        *http.Request
	accepted encoding.Encoding
	status   rfc9211.CacheStatus
	result   string
	log      zerolog.Logger
	// invalidations seen when the lookup started
	epoch uint64
}

func (s *Service) call(r *http.Request, upstream http.RoundTripper) (*http.Response, error) {
	ctx, span := s.tracer.Start(r.Context(), "transcache "+r.Method, trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		))
	defer span.End()
	r = r.WithContext(ctx)

	accepted, acceptable := preferences.NegotiateEncoding(r.Header, s.encodings)
	req := &request{
		r:        r,
		accepted: accepted,
		status:   rfc9211.CacheStatus{Cache: s.name},
		log:      s.log,
	}
	if !acceptable {
		req.log.Trace().Strs("accept-encoding", r.Header.Values("Accept-Encoding")).Msg("No acceptable encoding, serving identity")
	}

	var res *http.Response
	var err error
	if reason := s.skip(r); reason != "" {
		req.status.Forward(reason)
		req.result = "bypass"
		res, err = s.forward(req, upstream)
	} else {
		res, err = s.lookup(req, upstream)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream failed")
		Requests.WithLabelValues("error").Inc()
		return nil, err
	}
	res.Request = r
	res.Header.Set(rfc9211.HeaderName, req.status.String())
	span.SetAttributes(
		attribute.String("transcache.result", req.result),
		attribute.Int("http.response.status_code", res.StatusCode),
		attribute.String("http.response.content_encoding", res.Header.Get("Content-Encoding")),
	)
	Requests.WithLabelValues(req.result).Inc()
	s.logRequest(req, res)
	return res, nil
}

// skip returns the reason for not using the cache for the request, if any.
func (s *Service) skip(r *http.Request) rfc9211.FwdReason {
	switch {
	case r.Method != http.MethodGet:
		return rfc9211.FwdReasonMethod
	case !cache.BoolHeader(r.Header, cache.HeaderCache, true):
		return rfc9211.FwdReasonBypass
	case r.Header.Get("Range") != "":
		return rfc9211.FwdReasonRequest
	case s.cacheableHook != nil && !s.cacheableHook.Cacheable(r, nil):
		return rfc9211.FwdReasonBypass
	}
	return ""
}

// forward sends the request upstream without touching the store, apart from
// invalidating after unsafe requests.
func (s *Service) forward(req *request, upstream http.RoundTripper) (*http.Response, error) {
	res, err := s.fetch(req, upstream)
	if err != nil {
		return nil, err
	}
	s.invalidate(req, res)
	return s.stream(req, res), nil
}

func (s *Service) fetch(req *request, upstream http.RoundTripper) (*http.Response, error) {
	start := time.Now()
	req.log.Trace().Msg("Forwarding to upstream")
	res, err := upstream.RoundTrip(req.r)
	if err != nil {
		return nil, err
	}
	UpstreamDuration.WithLabelValues(strconv.Itoa(res.StatusCode)).Observe(time.Since(start).Seconds())
	req.status.FwdStatus = res.StatusCode
	if res.Header == nil {
		res.Header = http.Header{}
	}
	return res, nil
}

func (s *Service) lookup(req *request, upstream http.RoundTripper) (*http.Response, error) {
	ctx := req.r.Context()
	key := cachekey.ForRequest(req.r)
	if s.keyHook != nil {
		s.keyHook.ModifyKey(&key, req.r)
	}
	req.log = req.log.With().Str("key", key.String()).Logger()
	req.epoch = s.invalidations.Load()

	if entry, ok := s.cache.Get(ctx, key); ok {
		req.log.Trace().Msg("Found cached response")
		return s.hit(req, key, entry), nil
	}

	req.status.Forward(rfc9211.FwdReasonUriMiss)
	req.result = "miss"
	res, err := s.fetch(req, upstream)
	if err != nil {
		return nil, err
	}
	if reason := s.uncacheable(req.r, res); reason != "" {
		req.log.Trace().Str("reason", reason).Msg("Not storing response")
		return s.stream(req, res), nil
	}
	return s.store(req, key, res), nil
}

func (s *Service) hit(req *request, key cachekey.CacheKey, entry *cache.Entry) *http.Response {
	ctx := req.r.Context()
	req.status.Hit()
	if !entry.Expires.IsZero() {
		req.status.TTL(time.Until(entry.Expires))
	}

	if !rfc9110.Modified(req.r.Header, entry.Header) {
		req.result = "not_modified"
		return notModified(entry)
	}

	req.result = "hit"
	res, next, err := entry.Response(req.accepted, s.entryOpts.StoreIdentity, s.entryOpts.Codec)
	if err != nil {
		req.log.Error().Err(err).Str("encoding", req.accepted.String()).Msg("Could not transcode cached response")
		req.result = "error"
		return internalError()
	}
	if next != nil {
		Transcodes.WithLabelValues(entry.Encoding().String(), req.accepted.String(), "cached").Inc()
		s.put(ctx, req, key, next)
	}
	if entry.Encodable {
		addVary(res.Header)
	}
	return res
}

// uncacheable returns why an upstream response must not be stored, if it must not.
func (s *Service) uncacheable(r *http.Request, res *http.Response) string {
	switch {
	case !cache.BoolHeader(res.Header, cache.HeaderCache, true):
		return "disabled by " + cache.HeaderCache
	case zeroDuration(res.Header):
		return "zero " + cache.HeaderCacheDuration
	case s.cacheableHook != nil && !s.cacheableHook.Cacheable(r, res):
		return "disabled by hook"
	case res.StatusCode < 200 || res.StatusCode > 299:
		return "status " + strconv.Itoa(res.StatusCode)
	case res.Header.Get("Content-Range") != "":
		return "partial content"
	case res.ContentLength < 0:
		return "unknown length"
	case res.ContentLength < s.minBodySize:
		return "too small"
	case s.maxBodySize > 0 && res.ContentLength > s.maxBodySize:
		return "too large"
	}
	return ""
}

func zeroDuration(header http.Header) bool {
	d, ok := cache.DurationHeader(header, cache.HeaderCacheDuration)
	return ok && d == 0
}

// store reads the response into an entry, puts it in the cache and serves it.
// Responses that cannot be read or transcoded are forwarded as received.
func (s *Service) store(req *request, key cachekey.CacheKey, res *http.Response) *http.Response {
	opts := s.entryOpts
	opts.Encodable = s.encodableDefault(req.r, res)
	res.Header.Del(cacheupdate.HeaderName)

	entry, err := cache.ReadEntry(res, opts)
	var pieces *cache.PiecesError
	if errors.As(err, &pieces) {
		req.log.Debug().Err(err).Msg("Could not read response, forwarding it as received")
		res.Body = pieces.Body()
		stripControlHeaders(res.Header)
		return res
	} else if err != nil {
		req.log.Debug().Err(err).Msg("Not storing response")
		return s.stream(req, res)
	}

	prepared, err := entry.Prepare(req.accepted, opts)
	if err != nil {
		req.log.Error().Err(err).Str("encoding", req.accepted.String()).Msg("Could not encode response, serving it as received")
		out, _, _ := entry.Response(entry.Encoding(), false, opts.Codec)
		return out
	}
	if prepared != entry {
		Transcodes.WithLabelValues(entry.Encoding().String(), req.accepted.String(), "stored").Inc()
	}

	out, next, err := prepared.Response(req.accepted, opts.StoreIdentity, opts.Codec)
	if err != nil {
		req.log.Error().Err(err).Msg("Could not serve stored response")
		req.result = "error"
		return internalError()
	}
	if next != nil {
		prepared = next
	}
	if s.put(req.r.Context(), req, key, prepared) {
		req.status.Stored = true
		req.result = "stored"
	}
	if prepared.Encodable {
		addVary(out.Header)
	}
	return out
}

// put stores the entry unless something was invalidated since the lookup, in
// which case the entry may be the one that was removed.
func (s *Service) put(ctx context.Context, req *request, key cachekey.CacheKey, entry *cache.Entry) bool {
	if s.invalidations.Load() != req.epoch {
		req.log.Trace().Msg("Not storing response, invalidated during lookup")
		return false
	}
	s.cache.Put(ctx, key, entry)
	return true
}

// invalidate removes the stored responses for the URIs an unsafe request
// changed, and for the ones named by the upstream in XX-Cache-Invalidate.
func (s *Service) invalidate(req *request, res *http.Response) {
	if s.disableInvalidation {
		return
	}
	ctx := req.r.Context()
	for _, u := range rfc9111.InvalidateURIs(req.r, res.StatusCode, res.Header) {
		req.log.Trace().Str("uri", u.String()).Msg("Invalidating stored response")
		s.invalidateKey(ctx, s.keyFor(req.r, u))
	}
	for _, update := range cacheupdate.GetCacheUpdates(req.r, res.StatusCode, res.Header) {
		key := s.keyFor(req.r, update.URL)
		req.log.Trace().Str("uri", update.URL.String()).Dur("delay", update.Delay).Msg("Invalidating stored response")
		if update.Delay > 0 {
			time.AfterFunc(update.Delay, func() {
				s.invalidateKey(context.Background(), key)
			})
			continue
		}
		s.invalidateKey(ctx, key)
	}
}

func (s *Service) invalidateKey(ctx context.Context, key cachekey.CacheKey) {
	s.cache.Invalidate(ctx, key)
	s.invalidations.Add(1)
	Invalidations.Inc()
}

// keyFor returns the key of a GET request for u with the headers of r.
func (s *Service) keyFor(r *http.Request, u *url.URL) cachekey.CacheKey {
	get := r.Clone(r.Context())
	get.Method = http.MethodGet
	get.URL = u
	get.Body = nil
	key := cachekey.ForRequest(get)
	if s.keyHook != nil {
		s.keyHook.ModifyKey(&key, get)
	}
	return key
}

func (s *Service) logRequest(req *request, res *http.Response) {
	req.log.Debug().
		Str("method", req.r.Method).
		Str("url", req.r.URL.String()).
		Str("sourceIp", requestSourceIP(req.r)).
		Str("result", req.result).
		Str("fwd", string(req.status.FwdReason)).
		Bool("stored", req.status.Stored).
		Int("status", res.StatusCode).
		Str("encoding", res.Header.Get("Content-Encoding")).
		Msg("Sending response to client")
}

func requestSourceIP(r *http.Request) string {
	// RemoteAddr is 1.2.3.4:10000 or [1:2:3]:10000
	i := strings.LastIndex(r.RemoteAddr, ":")
	if i < 0 {
		return r.RemoteAddr
	}
	return strings.Trim(r.RemoteAddr[:i], "[]")
}

func writeResponse(w http.ResponseWriter, res *http.Response, log zerolog.Logger) {
	defer res.Body.Close()
	header := w.Header()
	for name, values := range res.Header {
		header[name] = values
	}
	if res.ContentLength >= 0 && header.Get("Content-Length") == "" && bodyAllowed(res.StatusCode) {
		header.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(res.StatusCode)
	written, err := io.Copy(w, res.Body)
	if err != nil {
		log.Error().Err(err).Int64("written", written).Msg("Could not write response body to client")
		return
	}
	trailer := res.Trailer
	if tb, ok := res.Body.(interface{ Trailer() http.Header }); ok {
		trailer = tb.Trailer()
	}
	for name, values := range trailer {
		header[http.TrailerPrefix+name] = values
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
