package calendar

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote provider failures. Callers distinguish the two
// because they lead to different user-visible behavior: ErrUnauthorized is
// surfaced as a reconnect affordance and is never retried automatically,
// while ErrProviderUnavailable is retryable and must not hide
// already-loaded local events.
var (
	ErrUnauthorized        = errors.New("provider authorization required")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ErrNotFound is returned by store lookups for missing rows.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned by the store when a share role does not permit
// the attempted mutation.
var ErrForbidden = errors.New("insufficient calendar role")

// ValidationError rejects a write before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MalformedRecurrenceRuleError rejects an RRULE string that cannot be
// decoded. Token holds the part that failed, for field-level reporting.
type MalformedRecurrenceRuleError struct {
	Rule  string
	Token string
}

func (e *MalformedRecurrenceRuleError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("malformed recurrence rule %q: bad token %q", e.Rule, e.Token)
	}
	return fmt.Sprintf("malformed recurrence rule %q", e.Rule)
}
