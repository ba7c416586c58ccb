package engine

import (
	"context"
	"fmt"

	"github.com/warden-project/warden/models"
)

// DecisionOptions are the recognized options on moderator decision actions.
type DecisionOptions struct {
	Reason string
	// State overrides the decision-implied Closed state, by label or
	// ordinal (e.g. "Invalid" for non-actionable reports).
	State any
}

// DecisionFunc is a bound moderator action for one decision label.
type DecisionFunc func(ctx context.Context, ref models.SubjectRef, moderatorID uint64, opts *DecisionOptions) (*models.Ticket, error)

// ApplyDecision renders a moderator decision on an existing ticket. The
// decision may be given as a label (case-insensitive) or ordinal; unknown
// values fail before any mutation. The ticket closes, its subject is marked
// as failing review, and the rejection callback fires if this flipped the
// rejected flag.
func (e *Engine) ApplyDecision(ctx context.Context, ticketID uint, decision any, moderatorID uint64, opts *DecisionOptions) (*models.Ticket, error) {
	d, err := models.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &DecisionOptions{}
	}

	t, err := e.store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	wasRejected := t.Rejected

	if err := t.SetDecision(d); err != nil {
		return nil, err
	}
	t.ModeratorID = &moderatorID
	if opts.Reason != "" {
		t.Reason = opts.Reason
	}
	if opts.State != nil {
		if err := t.SetState(opts.State); err != nil {
			return nil, err
		}
	}

	if err := e.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("applying decision %s to ticket %d: %w", d, ticketID, err)
	}

	e.statusCache.Remove(t.Subject().String())
	decisionsCounter.WithLabelValues(d.String()).Inc()
	e.countDecision(ctx, d.String(), moderatorID)

	if !wasRejected && t.Rejected {
		cfg := e.configFor(t.SubjectType)
		if cfg.AfterRejection != nil {
			if err := cfg.AfterRejection(ctx, t); err != nil {
				return t, fmt.Errorf("after-rejection callback for %s: %w", t.Subject(), err)
			}
		}
	}
	return t, nil
}

// MarkSubject is the subject-level moderator action: it resolves the
// subject's open ticket, creating one if none exists, and applies the
// decision to it.
func (e *Engine) MarkSubject(ctx context.Context, ref models.SubjectRef, decision any, moderatorID uint64, opts *DecisionOptions) (*models.Ticket, error) {
	if _, err := models.ParseDecision(decision); err != nil {
		return nil, err
	}
	t, _, err := e.store.FindOrCreateOpen(ctx, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("resolving ticket for %s: %w", ref, err)
	}
	return e.ApplyDecision(ctx, t.ID, decision, moderatorID, opts)
}

// Actions returns the per-label moderator action table, one entry per
// decision in the taxonomy. Built once at engine construction; no runtime
// method synthesis.
func (e *Engine) Actions() map[string]DecisionFunc {
	return e.actions
}

func buildDecisionActions(e *Engine) map[string]DecisionFunc {
	out := make(map[string]DecisionFunc, len(models.DecisionLabels))
	for _, label := range models.DecisionLabels {
		out[label] = func(ctx context.Context, ref models.SubjectRef, moderatorID uint64, opts *DecisionOptions) (*models.Ticket, error) {
			return e.MarkSubject(ctx, ref, label, moderatorID, opts)
		}
	}
	return out
}
