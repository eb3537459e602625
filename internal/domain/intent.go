package domain

import "fmt"

// Intent is the top-level branch a turn takes.
type Intent int

const (
	IntentGeneral Intent = iota
	IntentJewelryConsultation
)

func (i Intent) String() string {
	switch i {
	case IntentGeneral:
		return "general_information"
	case IntentJewelryConsultation:
		return "jewelry_consultation"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// ParseIntent maps a label produced by the classifier onto an Intent.
func ParseIntent(label string) (Intent, bool) {
	switch label {
	case "general_information":
		return IntentGeneral, true
	case "jewelry_consultation":
		return IntentJewelryConsultation, true
	}
	return IntentGeneral, false
}
