package platform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflict is returned when the platform reports a duplicate resource.
	ErrConflict = errors.New("resource already exists")

	// ErrNotFound is returned when the platform reports 404.
	ErrNotFound = errors.New("resource not found")

	// ErrTimeout is returned when a call exceeds the per-call timeout.
	ErrTimeout = errors.New("platform call timed out")
)

// maxErrorBody bounds how much of a response body is kept in an APIError.
const maxErrorBody = 2048

// APIError is a failed platform call. StatusCode is zero for transport
// failures.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder

	b.WriteString(e.Op)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}

	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// isDuplicateBody reports whether a 400/422 body describes a name clash.
func isDuplicateBody(body string) bool {
	lower := strings.ToLower(body)

	return strings.Contains(lower, "already exists") ||
		strings.Contains(lower, "duplicate")
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}

	return s[:maxErrorBody] + "..."
}
