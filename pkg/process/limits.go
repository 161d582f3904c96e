package process

import "fmt"

// ResourceType names a limited resource.
type ResourceType string

const (
	// ResourcePages is the number of user pages backed by frames.
	ResourcePages ResourceType = "pages"
)

// Limits defines per-task resource limits.
type Limits struct {
	// MaxPages caps the mapped user pages of a task; 0 means unlimited.
	MaxPages int
}

// DefaultLimits returns the default per-task limits.
func DefaultLimits() Limits {
	return Limits{MaxPages: 4096}
}

// CheckPages checks that a task using used pages may map extra more.
func (l Limits) CheckPages(used, extra int) error {
	if l.MaxPages > 0 && used+extra > l.MaxPages {
		return &LimitError{
			Type:  ResourcePages,
			Limit: int64(l.MaxPages),
			Used:  int64(used + extra),
		}
	}
	return nil
}

// LimitError represents a resource limit violation.
type LimitError struct {
	Type  ResourceType
	Limit int64
	Used  int64
}

// Error returns the error message.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Type, e.Used, e.Limit)
}

// IsLimitError checks if an error is a limit error.
func IsLimitError(err error) bool {
	_, ok := err.(*LimitError)
	return ok
}
