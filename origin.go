package transcache

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// hopHeaders are removed when passing messages between client and origin.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// OriginTransport forwards server requests to an origin server.
type OriginTransport struct {
	scheme     string
	host       string
	hostHeader string
	transport  http.RoundTripper
	// Optional function for transforming the origin response,
	// e.g. for setting the control headers.
	ModifyResponse func(*http.Response) error
}

// NewOriginTransport creates a transport to the origin. Origins with paths are
// not supported. host is the hostname to use for HTTP requests and TLS
// negotiation, use it e.g. if the origin URL is just an IP address.
func NewOriginTransport(origin url.URL, host string) *OriginTransport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// bodies are stored as received, the transport must not decompress them
	transport.DisableCompression = true
	hostHeader := origin.Host
	if host != "" {
		hostHeader = host
		transport.TLSClientConfig = &tls.Config{
			ServerName: host,
		}
	}
	return &OriginTransport{
		scheme:     origin.Scheme,
		host:       origin.Host,
		hostHeader: hostHeader,
		transport:  transport,
	}
}

func (o *OriginTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	out.URL.Scheme = o.scheme
	out.URL.Host = o.host
	out.Host = o.hostHeader
	out.Close = false
	removeHopHeaders(out.Header)
	if ip := requestSourceIP(req); ip != "" && net.ParseIP(ip) != nil {
		if prior := out.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}

	res, err := o.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	removeHopHeaders(res.Header)
	if o.ModifyResponse != nil {
		if err := o.ModifyResponse(res); err != nil {
			res.Body.Close()
			return nil, err
		}
	}
	return res, nil
}

func removeHopHeaders(header http.Header) {
	for _, value := range header.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}
