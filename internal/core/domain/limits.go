package domain

// KycTier is the user's verified identity level.
type KycTier int

const (
	TierBronze KycTier = iota
	TierSilver
	TierGold
)

func (t KycTier) String() string {
	switch t {
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "bronze"
	}
}

// KycTiers is the tier service response: the user's current tier and the
// per-tier approval state.
type KycTiers struct {
	Current  KycTier
	Approved map[KycTier]bool
}

// IsApproved reports whether the tier has been approved for the user.
func (t KycTiers) IsApproved(tier KycTier) bool {
	return t.Approved[tier]
}

// TransferLimits are the custodial min/max bounds for the user's tier,
// denominated in fiat. They are resolved once per flow initialisation and
// converted into the source asset before being cached on the PendingTx.
type TransferLimits struct {
	Min Money
	Max Money
}

// TransferDirection describes which sides of a custodial transfer touch
// user-held keys.
type TransferDirection string

const (
	DirectionInternal    TransferDirection = "INTERNAL"
	DirectionFromUserKey TransferDirection = "FROM_USERKEY"
	DirectionToUserKey   TransferDirection = "TO_USERKEY"
	DirectionOnChain     TransferDirection = "ON_CHAIN"
)

// RequiresRefundAddress reports whether order creation must supply a
// source-side refund address.
func (d TransferDirection) RequiresRefundAddress() bool {
	return d == DirectionFromUserKey || d == DirectionOnChain
}

// RequiresDestinationAddress reports whether order creation must supply a
// destination address.
func (d TransferDirection) RequiresDestinationAddress() bool {
	return d == DirectionToUserKey || d == DirectionOnChain
}
