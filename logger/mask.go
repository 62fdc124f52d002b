package logger

import (
	"net/url"
	"sort"
	"strings"
)

// Mask will mask a string by replacing the second half with asterisks.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// MaskURL returns rawURL with every query value masked. Identity tokens ride
// in the query string of the login probe, so any URL that is logged goes
// through here first. Unparseable input is masked whole.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Mask(rawURL)
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+Mask(strings.Join(q[k], ",")))
	}
	u.RawQuery = ""
	return u.String() + "?" + strings.Join(parts, "&")
}
