package preference

import "gem-concierge/internal/domain"

// NextQuestionSlot returns the first unset slot in discovery order, or
// false when every slot is set.
func NextQuestionSlot(p domain.PreferenceSet) (domain.Slot, bool) {
	for _, s := range domain.DiscoveryOrder {
		if p.Get(s) == "" {
			return s, true
		}
	}
	return "", false
}
