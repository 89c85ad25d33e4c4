// Package httpheader parses the extra request headers sent with every
// dispatched document.
package httpheader

import (
	"fmt"
	"net/http"
	"strings"
)

// reserved headers are set by the HTTP client and may not be overridden.
var reserved = map[string]bool{
	"Content-Length":    true,
	"Host":              true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// Parse turns "Name: value" entries into a header set. Repeated names are
// kept in order.
func Parse(entries []string) (http.Header, error) {
	h := make(http.Header, len(entries))
	for _, entry := range entries {
		rawName, value, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("header %q: want \"Name: value\"", Redact(entry))
		}
		name := strings.TrimSpace(rawName)
		value = strings.TrimSpace(value)
		if name == "" {
			return nil, fmt.Errorf("header name must not be empty")
		}
		if !validFieldName(name) {
			return nil, fmt.Errorf("header %q has invalid field name", name)
		}
		if !validFieldValue(value) {
			return nil, fmt.Errorf("header %q has invalid field value", name)
		}
		name = http.CanonicalHeaderKey(name)
		if reserved[name] {
			return nil, fmt.Errorf("header %q is set by the client and cannot be overridden", name)
		}
		h.Add(name, value)
	}
	return h, nil
}

// Redact keeps the header name and hides the value.
func Redact(entry string) string {
	name, _, ok := strings.Cut(entry, ":")
	if !ok {
		return "***"
	}
	return strings.TrimSpace(name) + ": ***"
}

func validFieldName(name string) bool {
	for i := 0; i < len(name); i++ {
		if !isTokenByte(name[i]) {
			return false
		}
	}
	return name != ""
}

func isTokenByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9', b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0
}

func validFieldValue(value string) bool {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == 0x7f || (b < 0x20 && b != '\t') {
			return false
		}
	}
	return true
}
