// Package step defines the input and output of one decision step.
package step

// Map is an open map of string keys to JSON-compatible values. Key sets vary
// per template. Decoding keeps integers exact; see UnmarshalJSON.
type Map map[string]any

// Policy identifies a course of action chosen for a step.
type Policy string

const (
	Withdraw Policy = "withdraw"
	Assert   Policy = "assert"
	Comply   Policy = "comply"
)

// Policies lists every policy the current engine can choose, in rule order.
var Policies = []Policy{Withdraw, Assert, Comply}

// Known reports whether p is one of the current policies. Entries written by
// older versions may carry ids outside this set; those are kept as-is.
func (p Policy) Known() bool {
	for _, k := range Policies {
		if p == k {
			return true
		}
	}
	return false
}

func (p Policy) String() string { return string(p) }

// Input is a snapshot handed to the engine for one step.
type Input struct {
	HiddenState Map                `json:"hiddenState"`
	Observation Map                `json:"observation"`
	Preferences map[string]float64 `json:"preferences"`
	Precision   map[string]float64 `json:"precision"`
}

// Normalize replaces nil maps with empty ones.
func (in Input) Normalize() Input {
	if in.HiddenState == nil {
		in.HiddenState = Map{}
	}
	if in.Observation == nil {
		in.Observation = Map{}
	}
	if in.Preferences == nil {
		in.Preferences = map[string]float64{}
	}
	if in.Precision == nil {
		in.Precision = map[string]float64{}
	}
	return in
}

// Output is what the engine returns for one step.
type Output struct {
	Policy               Policy   `json:"policy"`
	PredictedObservation Map      `json:"predictedObservation"`
	Notes                []string `json:"notes"`
}
