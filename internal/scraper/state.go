package scraper

// Scan attempt state graph:
//
//	PENDING ──► FETCHING ──► NORMALIZING ──► UPSERTING ──► SUCCEEDED
//	   │            │              │              │
//	   │            └──────────────┴──────────────┴──► FAILED
//	   ├──► FAILED
//	   └──► SKIPPED
//
// SUCCEEDED, FAILED and SKIPPED are terminal states.

import (
	"fmt"

	"jobmate/recommender-service/internal/model"
)

var validTransitions = map[model.ScanState][]model.ScanState{
	model.ScanPending:     {model.ScanFetching, model.ScanFailed, model.ScanSkipped},
	model.ScanFetching:    {model.ScanNormalizing, model.ScanFailed},
	model.ScanNormalizing: {model.ScanUpserting, model.ScanFailed},
	model.ScanUpserting:   {model.ScanSucceeded, model.ScanFailed},
}

// IsTransitionAllowed reports whether a scan may move from → to.
func IsTransitionAllowed(from, to model.ScanState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends an attempt.
func IsTerminal(s model.ScanState) bool {
	switch s {
	case model.ScanSucceeded, model.ScanFailed, model.ScanSkipped:
		return true
	}
	return false
}

// attempt tracks one scan through the state graph. stage is the last
// non-terminal state reached and is what the ScanRecord reports.
type attempt struct {
	state model.ScanState
	stage model.ScanState
}

func newAttempt() *attempt {
	return &attempt{state: model.ScanPending, stage: model.ScanPending}
}

func (a *attempt) advance(to model.ScanState) error {
	if !IsTransitionAllowed(a.state, to) {
		return fmt.Errorf("scan transition %s → %s is not allowed", a.state, to)
	}
	if !IsTerminal(to) {
		a.stage = to
	}
	a.state = to
	return nil
}
