package domain

// FeeLevel is a named fee-aggressiveness tier.
type FeeLevel string

const (
	FeeNone     FeeLevel = "none"
	FeeRegular  FeeLevel = "regular"
	FeePriority FeeLevel = "priority"
	FeeCustom   FeeLevel = "custom"
)

// FeeSelection carries the chosen fee level and the levels the current
// engine supports. CustomRate is only meaningful when Selected is FeeCustom
// and is denominated in the network's native rate unit (sat/byte, wei).
type FeeSelection struct {
	Selected   FeeLevel
	Available  []FeeLevel
	CustomRate int64
	Asset      Asset
}

// Supports reports whether the level is available on this selection.
func (s FeeSelection) Supports(level FeeLevel) bool {
	for _, l := range s.Available {
		if l == level {
			return true
		}
	}
	return false
}

// WithLevel returns a copy with the selected level replaced.
func (s FeeSelection) WithLevel(level FeeLevel, customRate int64) FeeSelection {
	s.Selected = level
	s.CustomRate = customRate
	return s
}
