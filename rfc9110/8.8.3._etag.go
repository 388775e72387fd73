package rfc9110

import (
	"strings"
)

// §  8.8.3.  ETag
// §
// §     The "ETag" field in a response provides the current entity tag for
// §     the selected representation, as determined at the conclusion of
// §     handling the request.
// §
// §       ETag       = entity-tag
// §
// §       entity-tag = [ weak ] opaque-tag
// §       weak       = %s"W/"
// §       opaque-tag = DQUOTE *etagc DQUOTE
// §       etagc      = %x21 / %x23-7E / obs-text
// §                  ; VCHAR except double quotes, plus obs-text
type ETag struct {
	Weak   bool
	Opaque string
}

func (e ETag) String() string {
	if e.Weak {
		return `W/"` + e.Opaque + `"`
	}
	return `"` + e.Opaque + `"`
}

// ParseETag parses a single entity-tag.
func ParseETag(value string) (ETag, bool) {
	tag, rest, ok := scanETag(strings.TrimSpace(value))
	if !ok || rest != "" {
		return ETag{}, false
	}
	return tag, true
}

func scanETag(s string) (ETag, string, bool) {
	var tag ETag
	if strings.HasPrefix(s, "W/") {
		tag.Weak = true
		s = s[2:]
	}
	if len(s) < 2 || s[0] != '"' {
		return tag, s, false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			tag.Opaque = s[1:i]
			return tag, s[i+1:], true
		}
		if !isETagc(c) {
			return tag, s[i:], false
		}
	}
	return tag, "", false
}

func isETagc(c byte) bool {
	return c == 0x21 || (c >= 0x23 && c <= 0x7e) || c >= 0x80
}

// §  8.8.3.2.  Comparison
// §
// §     Strong comparison: two entity tags are equivalent if both are not
// §     weak and their opaque-tags match character-by-character.
func (e ETag) StrongMatch(other ETag) bool {
	return !e.Weak && !other.Weak && e.Opaque == other.Opaque
}

// ParseETagList parses the value of `If-None-Match` or `If-Match`.
// Wildcard is true for `*`. Malformed list members are skipped.
//
// §       If-None-Match = "*" / #entity-tag
func ParseETagList(values []string) (tags []ETag, wildcard bool) {
	for _, value := range values {
		s := value
		for {
			s = strings.TrimLeft(s, " \t,")
			if s == "" {
				break
			}
			if s[0] == '*' {
				wildcard = true
				s = s[1:]
				continue
			}
			tag, rest, ok := scanETag(s)
			if ok {
				tags = append(tags, tag)
				s = rest
				continue
			}
			// skip the malformed member
			if i := strings.IndexByte(rest, ','); i >= 0 {
				s = rest[i:]
			} else {
				break
			}
		}
	}
	return tags, wildcard
}
