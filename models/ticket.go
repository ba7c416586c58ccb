package models

import (
	"fmt"
	"time"
)

// SubjectRef is a polymorphic reference to a moderated record held in the
// hosting application's own store: a type tag plus that store's row id.
type SubjectRef struct {
	Type string `json:"subject_type"`
	ID   uint64 `json:"subject_id"`
}

func (r SubjectRef) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// AttrChange is an attribute's (previous, new) value pair. Serialized as a
// two-element JSON array.
type AttrChange [2]any

func (c AttrChange) Previous() any { return c[0] }
func (c AttrChange) New() any      { return c[1] }

// AttrDiff maps attribute names to the change that triggered review.
type AttrDiff map[string]AttrChange

// Ticket tracks one review cycle for a subject. At most one ticket per
// subject may be open (state New, not rejected) at a time; qualifying saves
// reuse the open ticket instead of creating another.
type Ticket struct {
	ID          uint   `gorm:"primarykey"`
	SubjectType string `gorm:"not null;index:idx_ticket_subject"`
	SubjectID   uint64 `gorm:"not null;index:idx_ticket_subject"`

	StateID    TicketState `gorm:"not null;default:0;index"`
	DecisionID *Decision   `gorm:"index"`
	Rejected   bool        `gorm:"not null;default:false;index"`
	Flagged    bool        `gorm:"not null;default:false;index"`
	Reason     string

	ModeratorID *uint64 `gorm:"index"`

	// The exact diff that produced the current open version of this ticket.
	// Overwritten, never merged, when the ticket is reused for a new diff.
	InspectedAttributes AttrDiff `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subject returns the ticket's polymorphic subject reference.
func (t *Ticket) Subject() SubjectRef {
	return SubjectRef{Type: t.SubjectType, ID: t.SubjectID}
}

// State returns the textual label for the ticket's state ordinal.
func (t *Ticket) State() string {
	return t.StateID.String()
}

// SetState assigns the state from a label or ordinal. Unknown values leave
// the ticket unchanged.
func (t *Ticket) SetState(v any) error {
	s, err := ParseState(v)
	if err != nil {
		return err
	}
	t.StateID = s
	return nil
}

// Decision returns the textual label for the ticket's decision, or "" when
// no decision has been rendered.
func (t *Ticket) Decision() string {
	if t.DecisionID == nil {
		return ""
	}
	return t.DecisionID.String()
}

// SetDecision assigns the decision from a label or ordinal. Rendering a
// decision closes the ticket and marks the subject as failing review.
func (t *Ticket) SetDecision(v any) error {
	d, err := ParseDecision(v)
	if err != nil {
		return err
	}
	t.StateID = StateClosed
	t.Rejected = true
	t.DecisionID = &d
	return nil
}

// Open reports whether the ticket is awaiting a decision.
func (t *Ticket) Open() bool {
	return t.StateID == StateNew && !t.Rejected
}

// Validate checks the fields every persisted ticket must carry. A moderator
// is required once the ticket has left the default open state.
func (t *Ticket) Validate() error {
	var missing []string
	if t.SubjectType == "" {
		missing = append(missing, "subject_type")
	}
	if t.SubjectID == 0 {
		missing = append(missing, "subject_id")
	}
	if t.StateID != StateNew && t.ModeratorID == nil {
		missing = append(missing, "moderator_id")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
