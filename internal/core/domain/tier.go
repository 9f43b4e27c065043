package domain

// Tier is a customer service level. Each tier maps to a speed policy
// (concurrency and inter-completion delay) per gateway.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierElite    Tier = "elite"
)

// AllTiers lists tiers in ascending order of speed.
var AllTiers = []Tier{TierStandard, TierPremium, TierElite}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierPremium, TierElite:
		return true
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}
