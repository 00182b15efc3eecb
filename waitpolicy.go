package strata

import "time"

// WaitPolicy decides whether a submission blocks until the operation finishes
// and, when blocking, how long the caller is willing to wait. The zero value
// is fully detached: return immediately, never observe the outcome.
// HasTimeout distinguishes an explicit zero timeout (give up immediately)
// from no timeout at all (wait without bound).
type WaitPolicy struct {
	Wait       bool          `json:"wait"`
	Timeout    time.Duration `json:"timeout"`
	HasTimeout bool          `json:"has_timeout"`
}

// Blocking waits for completion without bound
func Blocking() WaitPolicy {
	return WaitPolicy{Wait: true}
}

// BlockingFor waits for completion at most timeout. A zero timeout fails over
// to the background immediately unless the operation is already done.
func BlockingFor(timeout time.Duration) WaitPolicy {
	return WaitPolicy{Wait: true, Timeout: timeout, HasTimeout: true}
}

// Background returns immediately while the operation keeps running
func Background() WaitPolicy {
	return WaitPolicy{}
}

// Bounded reports whether waiting is limited by a timeout
func (w WaitPolicy) Bounded() bool {
	return w.Wait && w.HasTimeout
}
