package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// secretKeys are redacted outright wherever they appear, whatever the value.
var secretKeys = map[string]bool{
	"authorization":    true,
	"x-api-key":        true,
	"api_key":          true,
	"upstream_api_key": true,
	"token":            true,
	"access_token":     true,
	"password":         true,
	"secret":           true,
}

// contentKeys mark payload-carrying fields whose strings follow the
// configured content mode instead of the default length cap.
var contentKeys = map[string]bool{
	"content":   true,
	"arguments": true,
	"output":    true,
	"text":      true,
	"data":      true,
}

// hardStringCap bounds every stored string regardless of mode.
const hardStringCap = 1_000_000

// SanitizeConfig controls how content strings are treated: "none" replaces
// them with a digest stub, "truncate" caps them at MaxChars, "full" keeps
// them whole.
type SanitizeConfig struct {
	ContentMode string
	MaxChars    int
}

// Sanitize walks a JSON tree, redacting secret-named keys and applying the
// content policy to strings. The input is never mutated.
func Sanitize(value any, cfg SanitizeConfig) any {
	return sanitizeValue(value, cfg, "")
}

func sanitizeValue(value any, cfg SanitizeConfig, parentKey string) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return sanitizeString(v, cfg, parentKey)
	case bool, float64, float32, int, int64, int32:
		return v
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item, cfg, parentKey)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			lower := strings.ToLower(key)
			if secretKeys[lower] {
				out[key] = "[REDACTED]"
				continue
			}
			out[key] = sanitizeValue(item, cfg, lower)
		}
		return out
	default:
		return sanitizeString(fmt.Sprintf("%v", v), cfg, parentKey)
	}
}

func sanitizeString(s string, cfg SanitizeConfig, parentKey string) any {
	if s == "" {
		return s
	}
	if len(s) > hardStringCap {
		s = s[:hardStringCap] + fmt.Sprintf("...[TRUNCATED hard_cap=%d]", hardStringCap)
	}

	isContent := parentKey != "" && contentKeys[parentKey]
	mode := strings.ToLower(strings.TrimSpace(cfg.ContentMode))
	if mode == "" {
		mode = "truncate"
	}

	if isContent && mode == "none" {
		digest := sha256.Sum256([]byte(s))
		return map[string]any{
			"_redacted": true,
			"chars":     len(s),
			"sha256_16": hex.EncodeToString(digest[:])[:16],
		}
	}

	if (isContent && mode == "truncate") || (!isContent && len(s) > cfg.MaxChars) {
		if cfg.MaxChars > 0 && len(s) > cfg.MaxChars {
			return s[:cfg.MaxChars] + fmt.Sprintf("...[TRUNCATED %d chars]", len(s)-cfg.MaxChars)
		}
		return s
	}

	return s
}
