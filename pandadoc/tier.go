package pandadoc

// Tier boundaries in minor units, inclusive upper bounds. Re-check these
// whenever pricing changes; the classifier tests pin the exact values.
const (
	basicMaxMinorUnits   = 35_000
	premiumMaxMinorUnits = 1_000_000
)

// TierFor maps a payment amount in minor units to its pricing tier.
func TierFor(amountMinorUnits int64) Tier {
	switch {
	case amountMinorUnits <= basicMaxMinorUnits:
		return TierBasic
	case amountMinorUnits <= premiumMaxMinorUnits:
		return TierPremium
	default:
		return TierEnterprise
	}
}
