package domain

import "strings"

// Slot names one of the customer attributes the assistant discovers.
type Slot string

const (
	SlotPurchaseType Slot = "purchase_type"
	SlotGender       Slot = "gender"
	SlotCategory     Slot = "category"
	SlotMetalType    Slot = "metal_type"
	SlotStoneType    Slot = "stone_type"
	SlotBudgetRange  Slot = "budget_range"
)

// DiscoveryOrder is the fixed priority in which empty slots are asked about.
var DiscoveryOrder = []Slot{
	SlotPurchaseType,
	SlotGender,
	SlotCategory,
	SlotMetalType,
	SlotStoneType,
	SlotBudgetRange,
}

var slotValues = map[Slot][]string{
	SlotPurchaseType: {"gift", "self"},
	SlotGender:       {"female", "male"},
	SlotCategory:     {"earrings", "necklaces", "pendants", "rings", "bracelets", "watches"},
	SlotMetalType:    {"platinum", "rose gold", "white gold", "yellow gold"},
	SlotStoneType:    {"aquamarine", "diamond", "emerald", "pearl", "ruby", "sapphire"},
	SlotBudgetRange:  {"under 1000", "1000 to 2500", "2500 to 5000", "over 5000"},
}

// Values returns the closed set of values the slot accepts.
func (s Slot) Values() []string {
	return append([]string(nil), slotValues[s]...)
}

// Normalize maps raw model output onto the slot's enumeration. It returns ""
// for anything that is not one of the allowed values.
func (s Slot) Normalize(raw string) string {
	v := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	for _, allowed := range slotValues[s] {
		if v == allowed {
			return allowed
		}
	}
	return ""
}

// PreferenceSet holds the discovered customer preferences. An empty string
// means the slot is unset.
type PreferenceSet struct {
	PurchaseType string `json:"purchase_type"`
	Gender       string `json:"gender"`
	Category     string `json:"category"`
	MetalType    string `json:"metal_type"`
	StoneType    string `json:"stone_type"`
	BudgetRange  string `json:"budget_range"`
}

// Get returns the value of slot s.
func (p PreferenceSet) Get(s Slot) string {
	switch s {
	case SlotPurchaseType:
		return p.PurchaseType
	case SlotGender:
		return p.Gender
	case SlotCategory:
		return p.Category
	case SlotMetalType:
		return p.MetalType
	case SlotStoneType:
		return p.StoneType
	case SlotBudgetRange:
		return p.BudgetRange
	}
	return ""
}

// With returns a copy of p with slot s set to v.
func (p PreferenceSet) With(s Slot, v string) PreferenceSet {
	switch s {
	case SlotPurchaseType:
		p.PurchaseType = v
	case SlotGender:
		p.Gender = v
	case SlotCategory:
		p.Category = v
	case SlotMetalType:
		p.MetalType = v
	case SlotStoneType:
		p.StoneType = v
	case SlotBudgetRange:
		p.BudgetRange = v
	}
	return p
}

// Merge layers newer on top of p. Set slots are never cleared: an empty
// value in newer keeps the value already known.
func (p PreferenceSet) Merge(newer PreferenceSet) PreferenceSet {
	out := p
	for _, s := range DiscoveryOrder {
		if v := newer.Get(s); v != "" {
			out = out.With(s, v)
		}
	}
	return out
}

// Ready reports whether every slot is set.
func (p PreferenceSet) Ready() bool {
	for _, s := range DiscoveryOrder {
		if p.Get(s) == "" {
			return false
		}
	}
	return true
}

// Known returns the populated slots in discovery order.
func (p PreferenceSet) Known() []SlotValue {
	var out []SlotValue
	for _, s := range DiscoveryOrder {
		if v := p.Get(s); v != "" {
			out = append(out, SlotValue{Slot: s, Value: v})
		}
	}
	return out
}

// Map renders the populated slots keyed by slot name.
func (p PreferenceSet) Map() map[string]string {
	out := make(map[string]string)
	for _, kv := range p.Known() {
		out[string(kv.Slot)] = kv.Value
	}
	return out
}

// PreferenceSetFromMap is the inverse of Map. Unknown keys and values
// outside a slot's enumeration are dropped.
func PreferenceSetFromMap(m map[string]string) PreferenceSet {
	var p PreferenceSet
	for _, s := range DiscoveryOrder {
		p = p.With(s, s.Normalize(m[string(s)]))
	}
	return p
}

// SlotValue is one populated slot.
type SlotValue struct {
	Slot  Slot
	Value string
}
