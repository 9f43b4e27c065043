package domain

import "time"

// BatchSummary is the persisted record of one batch run. Written after the
// batch settles; never read back by the scheduling path.
type BatchSummary struct {
	ID         string
	GatewayID  GatewayID
	Tier       Tier
	TotalTasks int
	Succeeded  int
	Failed     int
	Canceled   bool
	Duration   time.Duration
	StartedAt  time.Time
}
