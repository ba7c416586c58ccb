package models

import (
	"fmt"
	"strings"
)

// TicketState is the lifecycle position of a moderation ticket. States are
// ordinal-addressable: the zero value is the open state a freshly created
// ticket starts in.
type TicketState int

const (
	StateNew TicketState = iota
	StateClosed
	StateInvalid
)

// StateLabels is the canonical label set, indexed by ordinal.
var StateLabels = []string{"New", "Closed", "Invalid"}

func (s TicketState) String() string {
	if s < 0 || int(s) >= len(StateLabels) {
		return "<unknown>"
	}
	return StateLabels[s]
}

// Decision is a moderator's classification of a subject that failed review.
type Decision int

const (
	DecisionSpam Decision = iota
	DecisionScam
	DecisionInappropriate
)

// DecisionLabels is the canonical label set, indexed by ordinal.
var DecisionLabels = []string{"Spam", "Scam", "Inappropriate"}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(DecisionLabels) {
		return "<unknown>"
	}
	return DecisionLabels[d]
}

// ParseState resolves a state from either its textual label
// (case-insensitive) or its ordinal position. Anything else is an
// ErrUnknownLabel.
func ParseState(v any) (TicketState, error) {
	ord, err := labelOrdinal(StateLabels, v)
	if err != nil {
		return StateNew, fmt.Errorf("ticket state: %w", err)
	}
	return TicketState(ord), nil
}

// ParseDecision resolves a decision from either its textual label
// (case-insensitive) or its ordinal position.
func ParseDecision(v any) (Decision, error) {
	ord, err := labelOrdinal(DecisionLabels, v)
	if err != nil {
		return DecisionSpam, fmt.Errorf("decision: %w", err)
	}
	return Decision(ord), nil
}

func labelOrdinal(labels []string, v any) (int, error) {
	switch val := v.(type) {
	case string:
		for i, l := range labels {
			if strings.EqualFold(l, val) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, val)
	case int:
		if val >= 0 && val < len(labels) {
			return val, nil
		}
		return 0, fmt.Errorf("%w: ordinal %d out of range", ErrUnknownLabel, val)
	case int64:
		return labelOrdinal(labels, int(val))
	case float64:
		// JSON numbers decode as float64
		if val == float64(int(val)) {
			return labelOrdinal(labels, int(val))
		}
		return 0, fmt.Errorf("%w: non-integral ordinal %v", ErrUnknownLabel, val)
	case TicketState:
		return labelOrdinal(labels, int(val))
	case Decision:
		return labelOrdinal(labels, int(val))
	case nil:
		return 0, fmt.Errorf("%w: nil", ErrUnknownLabel)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrUnknownLabel, v)
	}
}
