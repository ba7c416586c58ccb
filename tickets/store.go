// gorm-backed persistence for moderation tickets. The store owns the
// "at most one open ticket per subject" invariant: all open-ticket find and
// create paths go through a single transaction against the backing
// database, so concurrent saves of the same subject across processes cannot
// race two open tickets into existence.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/warden-project/warden/models"
)

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Ticket{}); err != nil {
		return nil, fmt.Errorf("migrating ticket table: %w", err)
	}
	return &Store{
		db:  db,
		log: slog.Default().With("system", "tickets"),
	}, nil
}

// Get loads a ticket by id.
func (s *Store) Get(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, fmt.Errorf("loading ticket %d: %w", id, err)
	}
	return &t, nil
}

// Latest returns the most recently created ticket for a subject, in any
// state, or nil when the subject has never been moderated.
func (s *Store) Latest(ctx context.Context, ref models.SubjectRef) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", ref.Type, ref.ID).
		Order("created_at DESC, id DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest ticket for %s: %w", ref, err)
	}
	return &t, nil
}

// FindOrCreateOpen locates the subject's open ticket (state New, not
// rejected, newest first) or constructs a new one, applies mutate, and
// persists the result, all inside one transaction with the open-ticket row
// locked. Reused tickets get their updated_at bumped even when mutate
// changes nothing, so queue position tracks the save event. Returns the
// saved ticket and whether it was newly created.
func (s *Store) FindOrCreateOpen(ctx context.Context, ref models.SubjectRef, mutate func(t *models.Ticket, created bool) error) (*models.Ticket, bool, error) {
	var out models.Ticket
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("subject_type = ? AND subject_id = ? AND state_id = ? AND rejected = ?",
			ref.Type, ref.ID, models.StateNew, false).
			Order("created_at DESC, id DESC")
		// sqlite serializes writers on its single connection; postgres needs
		// the row lock to keep two saves from both missing the open ticket
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		err := q.First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = models.Ticket{SubjectType: ref.Type, SubjectID: ref.ID}
			created = true
		} else if err != nil {
			return fmt.Errorf("finding open ticket for %s: %w", ref, err)
		}

		if mutate != nil {
			if err := mutate(&out, created); err != nil {
				return err
			}
		}
		if err := out.Validate(); err != nil {
			return err
		}

		if created {
			if err := tx.Create(&out).Error; err != nil {
				return fmt.Errorf("creating ticket for %s: %w", ref, err)
			}
			return nil
		}
		// Save writes every column, which also force-bumps updated_at on
		// reuses that carry no net field changes
		if err := tx.Save(&out).Error; err != nil {
			return fmt.Errorf("updating ticket %d: %w", out.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

// Save validates and persists an already-loaded ticket.
func (s *Store) Save(ctx context.Context, t *models.Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("saving ticket %d: %w", t.ID, err)
	}
	return nil
}

// SetFlagged updates a ticket's operator flag.
func (s *Store) SetFlagged(ctx context.Context, id uint, flagged bool) error {
	res := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", id).Update("flagged", flagged)
	if res.Error != nil {
		return fmt.Errorf("flagging ticket %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("flagging ticket %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// DeleteForSubject removes every ticket for a subject. Only used when the
// hosting application cascades a subject deletion.
func (s *Store) DeleteForSubject(ctx context.Context, ref models.SubjectRef) error {
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", ref.Type, ref.ID).
		Delete(&models.Ticket{}).Error
	if err != nil {
		return fmt.Errorf("deleting tickets for %s: %w", ref, err)
	}
	return nil
}

// ModerationSelector is the result of partitioning a batch of subjects for
// the passed/failed moderation queries: subjects that have never been
// moderated, plus the tickets whose rejected flag matched the request.
// Subjects whose latest ticket did not match are excluded from both arms.
type ModerationSelector struct {
	Unmoderated []models.SubjectRef
	Tickets     []models.Ticket
}

// Empty reports whether the selector matches nothing.
func (sel *ModerationSelector) Empty() bool {
	return len(sel.Unmoderated) == 0 && len(sel.Tickets) == 0
}

// SubjectIDs returns every subject id the selector admits, unmoderated
// subjects included.
func (sel *ModerationSelector) SubjectIDs() []uint64 {
	ids := make([]uint64, 0, len(sel.Unmoderated)+len(sel.Tickets))
	for _, r := range sel.Unmoderated {
		ids = append(ids, r.ID)
	}
	for _, t := range sel.Tickets {
		ids = append(ids, t.SubjectID)
	}
	return ids
}

// PartitionByModeration splits a batch of subjects into "never moderated"
// and "latest ticket has the requested rejected flag". An empty batch
// yields an empty selector.
func (s *Store) PartitionByModeration(ctx context.Context, refs []models.SubjectRef, rejected bool) (*ModerationSelector, error) {
	sel := &ModerationSelector{}
	for _, ref := range refs {
		t, err := s.Latest(ctx, ref)
		if err != nil {
			return nil, err
		}
		if t == nil {
			sel.Unmoderated = append(sel.Unmoderated, ref)
			continue
		}
		if t.Rejected == rejected {
			sel.Tickets = append(sel.Tickets, *t)
		}
	}
	return sel, nil
}
