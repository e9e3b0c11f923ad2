package httpserver

import "github.com/al-bashkir/demo-sessiond/internal/logsanitize"

// maxLoggedValue bounds client-supplied values in log lines.
const maxLoggedValue = 256

// sanitizeLog strips control characters from external HTTP input and caps
// its length before it reaches a log line.
func sanitizeLog(s string) string {
	return logsanitize.Truncate(logsanitize.Sanitize(s), maxLoggedValue)
}
