package worker

import "fmt"

// Kind classifies how a handler invocation ended.
type Kind int

const (
	Success Kind = iota
	Retryable
	Terminal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is what a handler returns instead of raising. The pool applies the
// retry policy from it.
type Outcome struct {
	Kind Kind
	// Reason is recorded in error_message. For Success it is an optional
	// note such as "Skipped: already PDF".
	Reason string
}

// Done reports success with an optional note.
func Done(note string) Outcome { return Outcome{Kind: Success, Reason: note} }

// Retry reports a failure that may succeed on another attempt.
func Retry(reason string) Outcome { return Outcome{Kind: Retryable, Reason: reason} }

// Fail reports a failure that must not be retried.
func Fail(reason string) Outcome { return Outcome{Kind: Terminal, Reason: reason} }

// Retryf and Failf format their reason.
func Retryf(format string, args ...any) Outcome { return Retry(fmt.Sprintf(format, args...)) }

func Failf(format string, args ...any) Outcome { return Fail(fmt.Sprintf(format, args...)) }
