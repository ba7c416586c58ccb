package engine

import (
	"context"
	"fmt"

	"github.com/warden-project/warden/models"
	"github.com/warden-project/warden/tracker"
)

// SaveOptions carries the per-save controls a trusted caller may set when
// notifying the engine of a subject save.
type SaveOptions struct {
	// SkipModeration bypasses the engine entirely, e.g. for the moderator's
	// own edits.
	SkipModeration bool

	// Seed fields, each applied to the ticket only when present.
	Reason    string
	Rejected  *bool
	Moderator *uint64
	Decision  any // label or ordinal
	State     any // label or ordinal; omitted leaves the default open state
}

// RecordModeration is the on-save entry point. It computes the
// moderation-relevant diff between the subject's previous and current
// attributes; when the diff is non-empty, or the subject type is registered
// AlwaysModerate, the subject's open ticket is created or reused, stamped
// with the diff, and persisted. Returns the ticket, or nil when the save
// needed no moderation. Persistence failures propagate: a save that
// warrants moderation must not silently lose its ticket write.
func (e *Engine) RecordModeration(ctx context.Context, ref models.SubjectRef, prev, curr map[string]any, opts *SaveOptions) (*models.Ticket, error) {
	if opts == nil {
		opts = &SaveOptions{}
	}
	if opts.SkipModeration {
		savesCounter.WithLabelValues(ref.Type, "skipped").Inc()
		return nil, nil
	}

	cfg := e.configFor(ref.Type)
	diff := tracker.Diff(prev, curr, cfg.Attributes)
	if len(diff) == 0 && !cfg.AlwaysModerate {
		savesCounter.WithLabelValues(ref.Type, "clean").Inc()
		return nil, nil
	}

	var wasRejected bool
	t, created, err := e.store.FindOrCreateOpen(ctx, ref, func(t *models.Ticket, created bool) error {
		wasRejected = t.Rejected
		if len(diff) == 0 {
			// always-moderate reuse with no attribute changes: only the
			// forced updated_at bump applies
			return nil
		}
		if opts.Reason != "" {
			t.Reason = opts.Reason
		}
		if opts.Rejected != nil {
			t.Rejected = *opts.Rejected
		}
		if opts.Moderator != nil {
			t.ModeratorID = opts.Moderator
		}
		if opts.Decision != nil {
			if err := t.SetDecision(opts.Decision); err != nil {
				return err
			}
		}
		// an explicit state wins over the decision-implied Closed; absent
		// both, the ticket stays (or starts) in the open state
		if opts.State != nil {
			if err := t.SetState(opts.State); err != nil {
				return err
			}
		}
		t.InspectedAttributes = diff
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording moderation for %s: %w", ref, err)
	}

	if created {
		ticketsOpenedCounter.WithLabelValues(ref.Type).Inc()
	} else {
		ticketsReusedCounter.WithLabelValues(ref.Type).Inc()
	}
	e.statusCache.Remove(ref.String())

	if created && cfg.AfterModerated != nil {
		if err := cfg.AfterModerated(ctx, t); err != nil {
			return t, fmt.Errorf("after-moderated callback for %s: %w", ref, err)
		}
	}
	// only fires on a real false-to-true transition of an existing ticket,
	// not on tickets born already rejected
	if !created && !wasRejected && t.Rejected && cfg.AfterRejection != nil {
		if err := cfg.AfterRejection(ctx, t); err != nil {
			return t, fmt.Errorf("after-rejection callback for %s: %w", ref, err)
		}
	}
	return t, nil
}
