// Package redact implements the default field-name and content-pattern
// based sanitization strategy applied to captured state before it is
// recorded.
package redact

import (
	"reflect"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveNameFragments are matched case-insensitively against property
// names. Any match redacts the value outright, regardless of its shape.
var sensitiveNameFragments = []string{
	"password", "token", "secret", "key", "auth", "credential",
	"api_key", "apikey", "access_token", "refresh_token", "bearer",
	"private", "session",
}

var (
	potentialTokenPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]{20,}$`)
	jwtPattern            = regexp.MustCompile(`^eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
)

var apiKeyPrefixes = []string{"sk_", "pk_", "bearer ", "basic "}

// maxRecursionDepth bounds the field-level recursive walk so self-
// referential or pathologically deep object graphs cannot hang redaction.
const maxRecursionDepth = 8

// Strategy sanitizes values before they are serialized into a Snapshot
// event. It never throws: on any reflection failure it defaults to
// redacting the offending value rather than passing it through.
type Strategy struct{}

// New returns the default redaction strategy.
func New() *Strategy {
	return &Strategy{}
}

// RedactField decides the recorded representation of a single named field
// value. It is also used, recursively and depth-bounded, by RedactValue when
// walking into maps and structs. A sensitive field name always yields a
// redacted result, but a value recognizable as a specific secret shape (a
// JWT, a likely API key) yields that shape's marker instead of the generic
// placeholder, so the recorded reason for redaction stays informative.
func (s *Strategy) RedactField(name string, value any) any {
	if isSensitiveName(name) {
		if str, ok := value.(string); ok {
			if marker, matched := contentMarker(str); matched {
				return marker
			}
		}
		return redactedPlaceholder
	}
	return s.redactByContent(value, 0)
}

// RedactValue applies field-name redaction to the root value and, for
// composite shapes (maps and structs), recurses into nested fields up to
// maxRecursionDepth. A value reached without a field name (e.g. the root
// itself, or a slice element) is only subject to content-pattern redaction.
func (s *Strategy) RedactValue(value any) (result any) {
	defer func() {
		if recover() != nil {
			result = redactedPlaceholder
		}
	}()
	return s.redactByContent(value, 0)
}

func (s *Strategy) redactByContent(value any, depth int) any {
	if depth > maxRecursionDepth {
		return redactedPlaceholder
	}

	if str, ok := value.(string); ok {
		return redactString(str)
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return value
	}

	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key()
			name := ""
			if key.Kind() == reflect.String {
				name = key.String()
			}
			fieldVal := iter.Value().Interface()
			if isSensitiveName(name) {
				out[name] = redactedPlaceholder
			} else {
				out[name] = s.redactByContent(fieldVal, depth+1)
			}
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			fieldVal := rv.Field(i).Interface()
			if isSensitiveName(f.Name) {
				out[f.Name] = redactedPlaceholder
			} else {
				out[f.Name] = s.redactByContent(fieldVal, depth+1)
			}
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return value
		}
		return s.redactByContent(rv.Elem().Interface(), depth)
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = s.redactByContent(rv.Index(i).Interface(), depth+1)
		}
		return out
	default:
		return value
	}
}

func isSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveNameFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func redactString(str string) string {
	if len(str) <= 16 {
		return str
	}
	if marker, matched := contentMarker(str); matched {
		return marker
	}
	return str
}

// contentMarker reports the specific redaction marker for a value
// recognizable as a particular secret shape, regardless of length.
func contentMarker(str string) (string, bool) {
	switch {
	case potentialTokenPattern.MatchString(str):
		return "[POTENTIAL_TOKEN_REDACTED]", true
	case jwtPattern.MatchString(str):
		return "[JWT_REDACTED]", true
	}
	lower := strings.ToLower(str)
	for _, prefix := range apiKeyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "[API_KEY_REDACTED]", true
		}
	}
	return "", false
}
