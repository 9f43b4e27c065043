package gatehealth

// Policy holds the thresholds driving gateway status transitions. The
// exact numbers are tunable operator policy, not a fixed law; defaults
// below are the shipped configuration.
type Policy struct {
	// WindowSize is the number of most recent outcomes kept per gateway.
	WindowSize int

	// OfflineConsecutiveFailures forces offline once this many failures
	// arrive in a row.
	OfflineConsecutiveFailures int

	// OfflineSuccessRate forces offline when the windowed success rate
	// drops below this value with at least MinSamples outcomes recorded.
	OfflineSuccessRate float64

	// DegradedConsecutiveFailures moves a gateway to degraded once this
	// many failures arrive in a row.
	DegradedConsecutiveFailures int

	// DegradedSuccessRate moves a gateway to degraded when the windowed
	// success rate drops below this value with at least MinSamples
	// outcomes recorded.
	DegradedSuccessRate float64

	// MinSamples is the minimum window population before rate-based
	// transitions apply. Consecutive-failure transitions apply always.
	MinSamples int

	// RecoverySuccesses is the number of consecutive successes that
	// return a non-online gateway to online.
	RecoverySuccesses int
}

// DefaultPolicy returns the shipped transition thresholds.
func DefaultPolicy() Policy {
	return Policy{
		WindowSize:                  50,
		OfflineConsecutiveFailures:  10,
		OfflineSuccessRate:          0.20,
		DegradedConsecutiveFailures: 3,
		DegradedSuccessRate:         0.70,
		MinSamples:                  10,
		RecoverySuccesses:           5,
	}
}
