package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// RateLimitedError is the structured form of the server's FLOOD_WAIT
// condition. Callers branch on it with errors.As and honor Seconds before
// retrying; it is the only failure class the scheduler auto-retries.
type RateLimitedError struct {
	Seconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: wait %ds", e.Seconds)
}

// AsRateLimited extracts a RateLimitedError from an error chain.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// wrapFloodWait converts the protocol library's FLOOD_WAIT_N error into a
// RateLimitedError. The underlying library surfaces the condition as a
// string-typed rpc error, so the text is parsed exactly once, here at the
// boundary; everything above sees only the structured form.
func wrapFloodWait(err error) error {
	if err == nil {
		return nil
	}
	str := err.Error()
	idx := strings.Index(str, "FLOOD_WAIT_")
	if idx < 0 {
		return err
	}
	var seconds int
	_, _ = fmt.Sscanf(str[idx+len("FLOOD_WAIT_"):], "%d", &seconds)
	if seconds <= 0 {
		return err
	}
	return &RateLimitedError{Seconds: seconds}
}
