// Package validation rejects oversized or hostile request bodies
// before they reach a handler. It never mutates a body: requests are
// passed through verbatim or rejected with a 400/413.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/api"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
)

// Size limits.
const (
	MaxRequestSize  = 10 * 1024 * 1024
	MaxJSONDepth    = 10
	MaxStringLength = 100000
	MaxArrayLength  = 10000
	MaxParamsSize   = 5 * 1024 * 1024
)

// dangerousPatterns are rejected in strict mode, in both keys and
// values.
var dangerousPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`), "Script tags not allowed"},
	{regexp.MustCompile(`(?i)javascript:`), "JavaScript protocol not allowed"},
	{regexp.MustCompile(`(?i)on\w+\s*=`), "Event handlers not allowed"},
}

// CheckDangerousPatterns reports whether the string is free of the
// rejected patterns, and the matching rule's message when not.
func CheckDangerousPatterns(value string) (bool, string) {
	for _, p := range dangerousPatterns {
		if p.re.MatchString(value) {
			return false, p.msg
		}
	}
	return true, ""
}

// ValidateStructure walks a decoded JSON value and enforces depth,
// string, and array limits plus the strict-mode pattern rules.
func ValidateStructure(data any, strict bool) (bool, string) {
	return validateValue(data, 0, "", strict)
}

func validateValue(data any, depth int, path string, strict bool) (bool, string) {
	if depth > MaxJSONDepth {
		return false, fmt.Sprintf("JSON depth exceeds maximum of %d at path: %s", MaxJSONDepth, path)
	}

	switch v := data.(type) {
	case map[string]any:
		for key, value := range v {
			if len(key) > MaxStringLength {
				return false, fmt.Sprintf("Key length exceeds maximum of %d at path: %s.%s", MaxStringLength, path, key)
			}
			if strict {
				if ok, msg := CheckDangerousPatterns(key); !ok {
					return false, fmt.Sprintf("%s in key at path: %s.%s", msg, path, key)
				}
			}
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			if ok, msg := validateValue(value, depth+1, newPath, strict); !ok {
				return false, msg
			}
		}
		return true, ""

	case []any:
		if len(v) > MaxArrayLength {
			return false, fmt.Sprintf("Array length exceeds maximum of %d at path: %s", MaxArrayLength, path)
		}
		for i, item := range v {
			if ok, msg := validateValue(item, depth+1, fmt.Sprintf("%s[%d]", path, i), strict); !ok {
				return false, msg
			}
		}
		return true, ""

	case string:
		if len(v) > MaxStringLength {
			return false, fmt.Sprintf("String length exceeds maximum of %d at path: %s", MaxStringLength, path)
		}
		if strict {
			if ok, msg := CheckDangerousPatterns(v); !ok {
				return false, fmt.Sprintf("%s at path: %s", msg, path)
			}
		}
		return true, ""
	}

	// Numbers, booleans, and null need no checks.
	return true, ""
}

// ValidateActionParams enforces the tighter limit on /execute action
// parameters.
func ValidateActionParams(params map[string]any, strict bool) (bool, string) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return false, "Invalid action parameters: not serializable"
	}
	if len(encoded) > MaxParamsSize {
		return false, fmt.Sprintf("Action parameters exceed maximum size of %d bytes", MaxParamsSize)
	}
	if ok, msg := validateValue(params, 0, "action.params", strict); !ok {
		return false, "Invalid action parameters: " + msg
	}
	return true, ""
}

// excludedEndpoints bypass validation entirely.
var excludedEndpoints = map[string]bool{
	"/health":  true,
	"/healthz": true,
}

// Validator is the request validation middleware.
type Validator struct {
	cfg *config.Config
}

// NewValidator builds the middleware. Strict mode comes from
// EDON_VALIDATE_STRICT.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Middleware checks the declared size before reading and the decoded
// body for POST/PUT/PATCH. Bodies that do not parse as JSON pass
// through untouched for the handler to deal with.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excludedEndpoints[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > MaxRequestSize {
			api.WritePayloadTooLarge(w, fmt.Sprintf("Request size exceeds maximum of %d bytes", MaxRequestSize))
			return
		}

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestSize+1))
		if err != nil {
			api.WriteBadRequest(w, "Validation error: unreadable request body")
			return
		}
		_ = r.Body.Close()
		if len(raw) > MaxRequestSize {
			api.WritePayloadTooLarge(w, fmt.Sprintf("Request size exceeds maximum of %d bytes", MaxRequestSize))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))

		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			// Not JSON (forms, webhooks). The handler decides.
			next.ServeHTTP(w, r)
			return
		}

		if ok, msg := ValidateStructure(body, v.cfg.ValidateStrict); !ok {
			api.WriteBadRequest(w, "Invalid request body: "+msg)
			return
		}

		if r.URL.Path == "/execute" {
			if top, ok := body.(map[string]any); ok {
				if action, ok := top["action"].(map[string]any); ok {
					if params, ok := action["params"].(map[string]any); ok {
						if valid, msg := ValidateActionParams(params, v.cfg.ValidateStrict); !valid {
							api.WriteBadRequest(w, msg)
							return
						}
					}
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}
