package session

import "time"

// Defaults for the retry policy, matching classic TFTP practice: a fixed
// 5 second wait per block and 5 sends of a block before giving up.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultAttempts = 5
)

// Decision is the policy's answer to "no reply arrived within Timeout".
type Decision int

const (
	Resend Decision = iota
	GiveUp
)

// Policy is the retry/timeout policy shared by both transfer roles.
// Timeout is the fixed per-wait interval, identical for every block (no
// backoff). Attempts caps how many times one block is sent, counting the
// original send; a receiver charges quiet rounds against the same budget.
// The zero value means the defaults.
type Policy struct {
	Timeout  time.Duration
	Attempts int
}

// OnTimeout decides whether a block that has been sent (or waited for)
// attempts times already is retried once more. The policy itself is
// stateless; the session tracks the counter and resets it whenever the
// expected reply arrives.
func (p Policy) OnTimeout(attempts int) Decision {
	if attempts >= p.Attempts {
		return GiveUp
	}
	return Resend
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	return p
}
