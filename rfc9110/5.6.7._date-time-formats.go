package rfc9110

import (
	"net/http"
	"strings"
	"time"
)

// §  5.6.7.  Date/Time Formats
// §
// §       HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.
func HTTPDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	date, err := imfDate(value)
	if err == nil {
		return date, nil
	}
	if date, obsErr := obsDate(value); obsErr == nil {
		return date, nil
	}
	return date, err
}

// DateHeader parses an HTTP-date header field.
// The boolean is false if the field is absent or malformed.
func DateHeader(header http.Header, name string) (time.Time, bool) {
	value := header.Get(name)
	if value == "" {
		return time.Time{}, false
	}
	date, err := HTTPDate(value)
	return date, err == nil
}

// §     An HTTP-date value represents time as an instance of Coordinated
// §     Universal Time (UTC).  The first two formats indicate UTC by the
// §     three-letter abbreviation for Greenwich Mean Time, "GMT", a
// §     predecessor of the UTC name; values in the asctime format are assumed
// §     to be in UTC.
func imfDate(value string) (time.Time, error) {
	return time.Parse(http.TimeFormat, normalizeZone(value))
}

// §     HTTP-date is case sensitive.  Note that Section 4.2 of [CACHING]
// §     relaxes this for cache recipients.
func normalizeZone(value string) string {
	if n := len(value); n > 3 && strings.EqualFold(value[n-3:], "GMT") {
		return value[:n-3] + "GMT"
	}
	return value
}

// §       obs-date     = rfc850-date / asctime-date
// §
// §       rfc850-date  = day-name-l "," SP date2 SP time-of-day SP GMT
// §       asctime-date = day-name SP date3 SP time-of-day SP year
func obsDate(value string) (time.Time, error) {
	if date, err := time.Parse(time.RFC850, normalizeZone(value)); err == nil {
		return date.UTC(), nil
	}
	return time.ParseInLocation(time.ANSIC, value, time.UTC)
}

// FormatHTTPDate formats t as IMF-fixdate.
//
// §     When a sender generates a field
// §     that contains one or more timestamps defined as HTTP-date, the sender
// §     MUST generate those timestamps in the IMF-fixdate format.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
