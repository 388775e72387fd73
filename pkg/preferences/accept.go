package preferences

import (
	"net/http"

	"github.com/always-cache/transcache/pkg/encoding"
)

// ParseAcceptEncoding parses the `Accept-Encoding` request header.
func ParseAcceptEncoding(header http.Header) Preferences[encoding.Encoding] {
	return Parse(header.Values("Accept-Encoding"), encoding.Parse)
}

// AcceptEncoding negotiates the response encoding.
// Identity is used when the request does not say, or when nothing else matches.
func AcceptEncoding(header http.Header, allowances []encoding.Encoding) encoding.Encoding {
	enc, _ := NegotiateEncoding(header, allowances)
	return enc
}

// NegotiateEncoding is AcceptEncoding that also reports whether the request
// accepts the result. It does not when every allowance is refused, e.g. with
// "identity;q=0" or "*;q=0". Identity is still returned then: RFC 9110
// lets the server send it instead of 406, and a cache never answers 406.
func NegotiateEncoding(header http.Header, allowances []encoding.Encoding) (encoding.Encoding, bool) {
	if len(header.Values("Accept-Encoding")) == 0 {
		return encoding.Identity, true
	}
	prefs := ParseAcceptEncoding(header)
	if best, ok := prefs.Best(allowances); ok {
		return best, true
	}
	return encoding.Identity, !identityRefused(prefs)
}

// identityRefused reports whether identity has weight 0, explicitly or through
// "*" when identity is not listed.
func identityRefused(prefs Preferences[encoding.Encoding]) bool {
	refused := false
	for _, pref := range prefs {
		if pref.Selector.Any {
			refused = refused || pref.Weight == 0
		} else if pref.Selector.Value == encoding.Identity {
			return pref.Weight == 0
		}
	}
	return refused
}
