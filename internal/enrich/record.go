package enrich

import "time"

// Policy bounds how often and how quickly unresolved guests are retried.
type Policy struct {
	// Ceiling is the retry count at which a row stops being selected.
	Ceiling int
	// BackoffUnit scales the quadratic backoff.
	BackoffUnit time.Duration
}

// DefaultPolicy allows three attempts spaced 5, 20 and 45 minutes apart.
func DefaultPolicy() Policy {
	return Policy{Ceiling: 3, BackoffUnit: 5 * time.Minute}
}

// Backoff returns the wait before the next attempt after the n-th failure.
func (p Policy) Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n*n) * p.BackoffUnit
}

// BuildResolved makes the success row for a matched candidate. Retry
// bookkeeping resets.
func BuildResolved(profile Profile, c Candidate) State {
	p := profile
	return State{
		SubjectID:    c.SubjectID,
		RawHandle:    c.RawHandle,
		RecordSource: RecordSource,
		Found:        true,
		Profile:      &p,
	}
}

// BuildUnresolved makes the failure row for a candidate the lookup did not
// return. The retry count advances and the next window opens after
// Backoff(retry).
func BuildUnresolved(c Candidate, now time.Time, policy Policy) State {
	retry := c.RetryCount + 1
	last := now
	next := now.Add(policy.Backoff(retry))
	msg := MissingProfileMessage
	return State{
		SubjectID:      c.SubjectID,
		RawHandle:      c.RawHandle,
		RecordSource:   RecordSource,
		Found:          false,
		FetchMessage:   &msg,
		RetryCount:     retry,
		LastRetryAt:    &last,
		NextRetryAfter: &next,
	}
}

// Classify places a row in the retry state machine. A nil state means the
// guest has never been attempted.
func Classify(s *State, now time.Time, ceiling int) Phase {
	switch {
	case s == nil:
		return PhaseUnattempted
	case s.Found:
		return PhaseFound
	case s.RetryCount >= ceiling:
		return PhaseExhausted
	case s.NextRetryAfter != nil && !s.NextRetryAfter.Before(now):
		return PhaseBackingOff
	default:
		return PhaseDue
	}
}
