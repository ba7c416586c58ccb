// Moderation engine: the facade hosting applications call when a moderated
// record is saved, plus the moderator-facing decision operations. Wraps the
// change tracker, the ticket store, and the per-type subject registry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/warden-project/warden/countstore"
	"github.com/warden-project/warden/models"
	"github.com/warden-project/warden/tickets"
)

// SubjectConfig is the per-type moderation policy, given once at
// registration. The zero value moderates every attribute, only on real
// changes, with no callbacks.
type SubjectConfig struct {
	// Attributes is the moderated-attribute whitelist. Empty means every
	// attribute is moderation-relevant.
	Attributes []string

	// AlwaysModerate opens or touches a ticket on every save, even when the
	// diff is empty.
	AlwaysModerate bool

	// AfterModerated runs after the first creation of a ticket for a save.
	AfterModerated func(ctx context.Context, t *models.Ticket) error

	// AfterRejection runs when a save or decision flips an existing
	// ticket's rejected flag from false to true.
	AfterRejection func(ctx context.Context, t *models.Ticket) error
}

type Engine struct {
	store    *tickets.Store
	counters countstore.CountStore
	log      *slog.Logger

	mu    sync.RWMutex
	types map[string]SubjectConfig

	// caches the latest-ticket rejected flag per subject; invalidated on
	// every write path that touches the subject
	statusCache *lru.Cache[string, bool]

	actions map[string]DecisionFunc
}

func New(store *tickets.Store, counters countstore.CountStore) *Engine {
	sc, _ := lru.New[string, bool](10_000)
	e := &Engine{
		store:       store,
		counters:    counters,
		log:         slog.Default().With("system", "engine"),
		types:       make(map[string]SubjectConfig),
		statusCache: sc,
	}
	e.actions = buildDecisionActions(e)
	return e
}

// Register declares a subject type as moderatable. Registering the same
// type again replaces its config.
func (e *Engine) Register(subjectType string, cfg SubjectConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types[subjectType] = cfg
}

func (e *Engine) configFor(subjectType string) SubjectConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.types[subjectType]
}

// FailedModeration reports whether a subject's most recent ticket marked it
// as failing review. Unsaved subjects (zero id) and never-moderated
// subjects have not failed.
func (e *Engine) FailedModeration(ctx context.Context, ref models.SubjectRef) (bool, error) {
	if ref.ID == 0 {
		return false, nil
	}
	if v, ok := e.statusCache.Get(ref.String()); ok {
		return v, nil
	}
	t, err := e.store.Latest(ctx, ref)
	if err != nil {
		return false, err
	}
	rejected := t != nil && t.Rejected
	e.statusCache.Add(ref.String(), rejected)
	return rejected, nil
}

// PartitionByModeration splits a subject batch for the passed/failed
// moderation queries.
func (e *Engine) PartitionByModeration(ctx context.Context, refs []models.SubjectRef, rejected bool) (*tickets.ModerationSelector, error) {
	return e.store.PartitionByModeration(ctx, refs, rejected)
}

// AwaitingDecision returns the review queue: open tickets, flagged first,
// least recently touched first.
func (e *Engine) AwaitingDecision(ctx context.Context, limit int) ([]models.Ticket, error) {
	return e.store.Queue(ctx, limit)
}

// FailedTickets returns tickets whose subjects failed moderation.
func (e *Engine) FailedTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	return e.store.RejectedQueue(ctx, limit)
}

// AwaitingDecisionFor restricts the review queue to a subject set.
func (e *Engine) AwaitingDecisionFor(ctx context.Context, refs []models.SubjectRef, limit int) ([]models.Ticket, error) {
	return e.store.QueueForSubjects(ctx, refs, limit)
}

// FailedTicketsFor restricts the rejected listing to a subject set.
func (e *Engine) FailedTicketsFor(ctx context.Context, refs []models.SubjectRef, limit int) ([]models.Ticket, error) {
	return e.store.RejectedForSubjects(ctx, refs, limit)
}

// GetTicket loads a single ticket.
func (e *Engine) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	return e.store.Get(ctx, id)
}

// Flag pins a ticket into the flagged band of the review queue.
func (e *Engine) Flag(ctx context.Context, id uint) error {
	return e.store.SetFlagged(ctx, id, true)
}

// Unflag clears a ticket's operator flag.
func (e *Engine) Unflag(ctx context.Context, id uint) error {
	return e.store.SetFlagged(ctx, id, false)
}

// SubjectDeleted cascades a subject deletion in the hosting application to
// that subject's tickets.
func (e *Engine) SubjectDeleted(ctx context.Context, ref models.SubjectRef) error {
	if err := e.store.DeleteForSubject(ctx, ref); err != nil {
		return err
	}
	e.statusCache.Remove(ref.String())
	return nil
}

func (e *Engine) countDecision(ctx context.Context, label string, moderatorID uint64) {
	if e.counters == nil {
		return
	}
	if err := e.counters.Increment(ctx, "decision", label); err != nil {
		e.log.Warn("decision counter increment failed", "decision", label, "err", err)
	}
	if err := e.counters.Increment(ctx, "moderator", fmt.Sprint(moderatorID)); err != nil {
		e.log.Warn("moderator counter increment failed", "moderator", moderatorID, "err", err)
	}
}
