package harvest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseCredential accepts either a "name=value; name2=value2" header string or
// a JSON array of cookie objects. Cookies without a domain get defaultDomain.
func ParseCredential(raw, defaultDomain string) ([]Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingCredential
	}
	var cookies []Cookie
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
		}
	} else {
		for _, pair := range strings.Split(raw, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, _ := strings.Cut(pair, "=")
			cookies = append(cookies, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
		}
	}
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.Domain == "" {
			c.Domain = defaultDomain
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrInvalidCookie
	}
	return out, nil
}

// CookieHeader joins cookies into a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
