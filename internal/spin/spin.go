// Package spin provides bounded busy wait helpers for register polling.
// Budgets are iteration counts, not wall clock time: the targets this
// driver models have no calibrated tick source during early
// configuration, so polls are bounded by attempts instead.
package spin

// Until polls cond up to budget times and reports whether it ever
// returned true.
func Until(budget uint32, cond func() bool) bool {
	for i := uint32(0); i < budget; i++ {
		if cond() {
			return true
		}
	}
	return false
}

// Budget converts an approximate millisecond timeout into a poll budget.
// The factor matches the spin rate the driver was tuned with and makes
// no wall clock promise.
func Budget(timeoutMs uint32) uint32 {
	return timeoutMs * 1000
}
