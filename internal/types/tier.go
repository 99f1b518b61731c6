// Package types holds the data model shared by the scorer, classifier,
// selector, dispatcher, and compression pipeline.
package types

import (
	"encoding/json"
	"fmt"
)

// Tier is a discrete complexity bucket used to select a model class.
// The zero value is SIMPLE; the total order SIMPLE < MEDIUM < COMPLEX <
// REASONING matches declaration order.
type Tier int

const (
	TierSimple Tier = iota
	TierMedium
	TierComplex
	TierReasoning
)

var tierNames = [...]string{"SIMPLE", "MEDIUM", "COMPLEX", "REASONING"}

func (t Tier) String() string {
	if int(t) >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "UNKNOWN"
}

// Less reports whether t is strictly lower-complexity than other.
func (t Tier) Less(other Tier) bool { return t < other }

func ParseTier(s string) (Tier, bool) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), true
		}
	}
	return 0, false
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseTier(s)
	if !ok {
		return fmt.Errorf("types: unknown tier %q", s)
	}
	*t = parsed
	return nil
}
