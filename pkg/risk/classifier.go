// Package risk maps anomaly scores onto discrete risk tiers.
package risk

import "fmt"

// Tier is a discrete risk classification. Values are ordered, High greatest,
// so tiers compare directly with >.
type Tier int

const (
	Low Tier = iota
	Medium
	High
)

func (t Tier) String() string {
	switch t {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// Key returns the tier's configuration key used by threshold and
// response-action maps.
func (t Tier) Key() string {
	return t.String() + "_risk"
}

// Thresholds are the ascending score cutoffs for the three tiers.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// Validate rejects threshold sets that are not descending from high to low.
func (th Thresholds) Validate() error {
	if th.High < th.Medium || th.Medium < th.Low {
		return fmt.Errorf("risk thresholds must satisfy high >= medium >= low, got %v >= %v >= %v",
			th.High, th.Medium, th.Low)
	}
	return nil
}

// Classify maps an anomaly score to a tier. Boundaries are inclusive and
// evaluated in descending order; scores below the medium cutoff are Low.
// There is no "none" tier: callers gate non-anomalous scores upstream and
// never invoke classification for them.
func Classify(score float64, th Thresholds) Tier {
	if score >= th.High {
		return High
	}
	if score >= th.Medium {
		return Medium
	}
	return Low
}
