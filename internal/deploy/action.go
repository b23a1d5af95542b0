package deploy

import (
	"fmt"
	"strings"
)

// Action controls the conditional dependency and asset steps of an update.
type Action int

const (
	// Check runs a conditional step only when its files changed.
	Check Action = iota
	// Force always runs both conditional steps, even with no upstream changes.
	Force
	// Skip never runs the conditional steps.
	Skip
)

var actionNames = map[Action]string{Check: "check", Force: "force", Skip: "skip"}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction accepts "check", "force" or "skip". Empty means Check.
func ParseAction(s string) (Action, error) {
	if s == "" {
		return Check, nil
	}
	for a, name := range actionNames {
		if strings.EqualFold(s, name) {
			return a, nil
		}
	}
	return Check, fmt.Errorf("unknown action %q (want check, force or skip)", s)
}

// Set implements the flag value interface.
func (a *Action) Set(s string) error {
	v, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Type implements the flag value interface.
func (a *Action) Type() string { return "action" }

// State is a host's position in the deploy state machine. States only move
// forward; a state counts as reached whether its work ran or was skipped.
type State int

const (
	Pending State = iota
	Fetched
	Merged
	DependenciesResolved
	AssetsResolved
	Restarted
	Verified
)

var stateNames = [...]string{"pending", "fetched", "merged", "dependencies-resolved", "assets-resolved", "restarted", "verified"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
