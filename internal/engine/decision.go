package engine

import (
	"github.com/lazypower/stepwise/internal/step"
)

// Observation keys read by the rules.
const (
	KeyThreat      = "threat"
	KeyBodyAlarm   = "bodyAlarm"
	KeyNeedClarity = "needClarity"
	KeyEnergy      = "energy"
)

// Prediction keys written to Output.PredictedObservation.
const (
	KeyPredictedPolicy    = "predictedPolicy"
	KeyPredictedThreat    = "predictedThreat"
	KeyPredictedBodyAlarm = "predictedBodyAlarm"
)

// Rule thresholds.
const (
	withdrawThreshold    = 2 // threat or bodyAlarm at or above this withdraws
	assertClarityMinimum = 2
	assertEnergyMinimum  = 1
)

var (
	withdrawNotes = []string{
		"Threat or body alarm is high, so the recommended policy is to create distance first (withdraw).",
		"Concrete options: hold off on replying, leave, change the venue, or bring in a third party.",
	}
	assertNotes = []string{
		"The need is clear and there is energy to spare, so the recommended policy is to state it directly (assert).",
		"Template: I-statement + request + alternative + deadline (e.g. \"I can't do it now. Tomorrow works.\").",
	}
	complyNotes = []string{
		"Not enough information to choose; returning comply as a provisional fallback.",
		"Next time: raise needClarity (write it down, fill in the template) so assert becomes available.",
	}
)

// Evaluate picks a policy for one step. The rules are checked in order and
// the first match wins:
//
//  1. threat >= 2 or bodyAlarm >= 2: withdraw
//  2. needClarity >= 2 and energy >= 1: assert
//  3. otherwise: comply (weakest choice, kept as the fallback)
//
// Evaluate never fails. Observation values that are missing or cannot be
// read as an integer count as 0.
//
// Preferences and Precision are part of the input contract but are
// intentionally unused: they are reserved for a future inference step and
// pass through untouched.
func Evaluate(in step.Input) step.Output {
	obs := in.Observation

	threat := IntValue(obs, KeyThreat)
	bodyAlarm := IntValue(obs, KeyBodyAlarm)
	needClarity := IntValue(obs, KeyNeedClarity)
	energy := IntValue(obs, KeyEnergy)

	var policy step.Policy
	var notes []string
	switch {
	case threat >= withdrawThreshold || bodyAlarm >= withdrawThreshold:
		policy = step.Withdraw
		notes = withdrawNotes
	case needClarity >= assertClarityMinimum && energy >= assertEnergyMinimum:
		policy = step.Assert
		notes = assertNotes
	default:
		policy = step.Comply
		notes = complyNotes
	}

	return step.Output{
		Policy:               policy,
		PredictedObservation: predict(policy, threat, bodyAlarm),
		Notes:                append([]string(nil), notes...),
	}
}

// predict is a placeholder heuristic: withdrawing lowers threat by one,
// withdrawing or asserting lowers body alarm by one. Values floor at 0.
func predict(policy step.Policy, threat, bodyAlarm int) step.Map {
	if policy == step.Withdraw {
		threat--
	}
	if policy == step.Withdraw || policy == step.Assert {
		bodyAlarm--
	}
	return step.Map{
		KeyPredictedPolicy:    string(policy),
		KeyPredictedThreat:    max(threat, 0),
		KeyPredictedBodyAlarm: max(bodyAlarm, 0),
	}
}

// IntValue reads key from m as an integer; see step.Map.Int.
func IntValue(m step.Map, key string) int {
	return m.Int(key)
}
