// Package triage implements the emergency triage dispatch queue.
package triage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SeverityTier represents a dispatch priority class. Lower values are more urgent.
type SeverityTier int

const (
	TierCritical SeverityTier = 1
	TierSerious  SeverityTier = 2
	TierModerate SeverityTier = 3
	TierNormal   SeverityTier = 4
)

// Tiers lists every tier in dispatch order.
var Tiers = []SeverityTier{TierCritical, TierSerious, TierModerate, TierNormal}

// ErrUnknownSymptom indicates the symptom is not in the severity vocabulary
var ErrUnknownSymptom = errors.New("unknown symptom")

// String returns the tier label
func (t SeverityTier) String() string {
	switch t {
	case TierCritical:
		return "Critical"
	case TierSerious:
		return "Serious"
	case TierModerate:
		return "Moderate"
	case TierNormal:
		return "Normal"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the four defined tiers
func (t SeverityTier) Valid() bool {
	return t >= TierCritical && t <= TierNormal
}

// symptomTiers is the closed symptom vocabulary. Keys are lowercase.
var symptomTiers = map[string]SeverityTier{
	// Life-threatening
	"heart attack":         TierCritical,
	"stroke":               TierCritical,
	"breathing difficulty": TierCritical,
	"severe accident":      TierCritical,
	"cardiac arrest":       TierCritical,
	"unconscious":          TierCritical,
	"severe bleeding":      TierCritical,
	"seizure":              TierCritical,
	"anaphylaxis":          TierCritical,
	"burns (severe)":       TierCritical,

	// Urgent, not immediately life-threatening
	"fracture":         TierSerious,
	"high fever":       TierSerious,
	"severe pain":      TierSerious,
	"severe infection": TierSerious,
	"chest pain":       TierSerious,
	"deep wound":       TierSerious,
	"dehydration":      TierSerious,
	"burns (moderate)": TierSerious,

	// Stable, needs attention
	"food poisoning": TierModerate,
	"minor injury":   TierModerate,
	"asthma":         TierModerate,
	"vomiting":       TierModerate,
	"diarrhea":       TierModerate,
	"sprain":         TierModerate,
	"skin rash":      TierModerate,
	"ear pain":       TierModerate,
	"burns (mild)":   TierModerate,

	// General OPD
	"headache":       TierNormal,
	"cold":           TierNormal,
	"cough":          TierNormal,
	"sore throat":    TierNormal,
	"toothache":      TierNormal,
	"allergy (mild)": TierNormal,
	"body ache":      TierNormal,
	"fatigue":        TierNormal,
	"insomnia":       TierNormal,
}

// NormalizeSymptom trims and case-folds symptom text for lookup
func NormalizeSymptom(symptom string) string {
	return strings.ToLower(strings.TrimSpace(symptom))
}

// Classify maps a symptom to its severity tier.
// Only exact vocabulary matches succeed; there is no default tier.
func Classify(symptom string) (SeverityTier, error) {
	tier, ok := symptomTiers[NormalizeSymptom(symptom)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSymptom, strings.TrimSpace(symptom))
	}
	return tier, nil
}

// Symptom is a vocabulary entry
type Symptom struct {
	Name string       `json:"name"`
	Tier SeverityTier `json:"-"`
}

// Symptoms returns the vocabulary ordered by tier, then name
func Symptoms() []Symptom {
	out := make([]Symptom, 0, len(symptomTiers))
	for name, tier := range symptomTiers {
		out = append(out, Symptom{Name: name, Tier: tier})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out
}
