package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/al-bashkir/demo-sessiond/internal/logsanitize"
)

const (
	// MaxStringLength caps every string in a payload, in bytes.
	MaxStringLength = 500

	// MaxPayloadBytes is the JSON size above which a payload is collapsed.
	MaxPayloadBytes = 10 * 1024

	maxDepth = 5
)

// sensitiveKeys are matched as substrings of the lowercased key with '-'
// normalised to '_'.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"apikey",
	"api_key",
	"authorization",
	"cookie",
	"ssn",
	"credit_card",
	"creditcard",
	"card_number",
	"cardnumber",
	"cvv",
}

func isSensitiveKey(key string) bool {
	k := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// SanitizeData strips sensitive keys, truncates strings and collapses the
// payload to a truncation marker when it is still too large.
func SanitizeData(d Data) Data {
	out := Data{
		DemoSessionID: logsanitize.Truncate(d.DemoSessionID, MaxStringLength),
		Role:          logsanitize.Truncate(d.Role, MaxStringLength),
		Feature:       logsanitize.Truncate(d.Feature, MaxStringLength),
		Page:          logsanitize.Truncate(d.Page, MaxStringLength),
		Reason:        logsanitize.Truncate(d.Reason, MaxStringLength),
		DurationMs:    d.DurationMs,
		EventCount:    d.EventCount,
		Extra:         SanitizeMap(d.Extra),
	}

	raw, err := json.Marshal(out)
	if err != nil {
		slog.Warn("dropping unserializable analytics payload", "error", err)
		return Data{Truncated: true}
	}
	if len(raw) > MaxPayloadBytes {
		return Data{Truncated: true, OriginalSize: len(raw)}
	}
	return out
}

// SanitizeMap returns a sanitized copy of m, or nil when nothing is left.
func SanitizeMap(m map[string]any) map[string]any {
	return sanitizeMap(m, 0)
}

func sanitizeMap(m map[string]any, depth int) map[string]any {
	if len(m) == 0 || depth >= maxDepth {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			continue
		}
		sv, keep := sanitizeValue(v, depth+1)
		if keep {
			out[logsanitize.Truncate(k, MaxStringLength)] = sv
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeValue(v any, depth int) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return logsanitize.Truncate(val, MaxStringLength), true
	case bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return val, true
	case map[string]any:
		m := sanitizeMap(val, depth)
		return m, m != nil
	case []any:
		if depth >= maxDepth {
			return nil, false
		}
		out := make([]any, 0, len(val))
		for _, item := range val {
			if sv, keep := sanitizeValue(item, depth+1); keep {
				out = append(out, sv)
			}
		}
		return out, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = logsanitize.Truncate(s, MaxStringLength)
		}
		return out, true
	default:
		return logsanitize.Truncate(fmt.Sprint(val), MaxStringLength), true
	}
}
