package contract

import "fmt"

// Violation is a contract mismatch: an unexpected status, a malformed body
// or a broken invariant. Check names what was being verified.
type Violation struct {
	Check   string
	Message string
}

func (v *Violation) Error() string {
	if v.Check == "" {
		return v.Message
	}
	return v.Check + ": " + v.Message
}

// Violationf builds a Violation with a formatted message.
func Violationf(check, format string, args ...any) *Violation {
	return &Violation{Check: check, Message: fmt.Sprintf(format, args...)}
}

// ExpectStatus returns a Violation when got is not allowed by want.
func ExpectStatus(check string, got int, want Codes) error {
	if want.Allows(got) {
		return nil
	}
	return Violationf(check, "expected status %s, got %d", want, got)
}
