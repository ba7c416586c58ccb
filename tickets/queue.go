package tickets

import (
	"context"
	"fmt"
	"sort"

	"github.com/warden-project/warden/models"
)

// queueOrder is the review queue sort: flagged tickets first, then oldest
// update first so untouched tickets surface. Ticket id breaks exact
// timestamp ties deterministically.
const queueOrder = "flagged DESC, updated_at ASC, id ASC"

// Queue returns open, non-rejected tickets in review order. limit <= 0
// returns the whole queue.
func (s *Store) Queue(ctx context.Context, limit int) ([]models.Ticket, error) {
	var ts []models.Ticket
	q := s.db.WithContext(ctx).
		Where("state_id = ? AND rejected = ?", models.StateNew, false).
		Order(queueOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("loading review queue: %w", err)
	}
	return ts, nil
}

// RejectedQueue returns tickets whose subjects failed moderation, in the
// same ordering as the review queue.
func (s *Store) RejectedQueue(ctx context.Context, limit int) ([]models.Ticket, error) {
	var ts []models.Ticket
	q := s.db.WithContext(ctx).
		Where("rejected = ?", true).
		Order(queueOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("loading rejected tickets: %w", err)
	}
	return ts, nil
}

// QueueForSubjects restricts the review queue to a set of subjects. An
// empty subject set matches nothing.
func (s *Store) QueueForSubjects(ctx context.Context, refs []models.SubjectRef, limit int) ([]models.Ticket, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var ts []models.Ticket
	q := s.db.WithContext(ctx).
		Where("state_id = ? AND rejected = ?", models.StateNew, false).
		Where("(subject_type, subject_id) IN ?", subjectPairs(refs)).
		Order(queueOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("loading review queue for subjects: %w", err)
	}
	return ts, nil
}

// RejectedForSubjects restricts the rejected listing to a set of subjects.
func (s *Store) RejectedForSubjects(ctx context.Context, refs []models.SubjectRef, limit int) ([]models.Ticket, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var ts []models.Ticket
	q := s.db.WithContext(ctx).
		Where("rejected = ?", true).
		Where("(subject_type, subject_id) IN ?", subjectPairs(refs)).
		Order(queueOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("loading rejected tickets for subjects: %w", err)
	}
	return ts, nil
}

func subjectPairs(refs []models.SubjectRef) [][]any {
	pairs := make([][]any, len(refs))
	for i, r := range refs {
		pairs[i] = []any{r.Type, r.ID}
	}
	return pairs
}

// OrderQueue sorts an already-loaded ticket slice into review order,
// in place, and returns it. Same key as the SQL queue ordering.
func OrderQueue(ts []models.Ticket) []models.Ticket {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := &ts[i], &ts[j]
		if a.Flagged != b.Flagged {
			return a.Flagged
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return ts
}
