package ipc

import "github.com/al-bashkir/demo-sessiond/internal/logsanitize"

// sanitizeIPCValue strips control characters from a client-supplied value
// before it is logged.
func sanitizeIPCValue(s string) string {
	return logsanitize.Truncate(logsanitize.Sanitize(s), 128)
}
