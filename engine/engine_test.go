package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/warden-project/warden/countstore"
	"github.com/warden-project/warden/models"
	"github.com/warden-project/warden/tickets"
)

func testEngine(t *testing.T) *Engine {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatal(err)
	}
	store, err := tickets.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return New(store, countstore.NewMemCountStore())
}

func TestRecordModerationEmptyDiffNoTicket(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	// no changes at all
	tk, err := e.RecordModeration(ctx, ref,
		map[string]any{"body": "same"}, map[string]any{"body": "same"}, nil)
	require.NoError(err)
	assert.Nil(tk)

	// fresh record with blank optional fields
	tk, err = e.RecordModeration(ctx, ref,
		map[string]any{}, map[string]any{"title": "", "body": ""}, nil)
	require.NoError(err)
	assert.Nil(tk)

	rejected, err := e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.False(rejected)
}

func TestRecordModerationSkipFlag(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	tk, err := e.RecordModeration(ctx, models.SubjectRef{Type: "Post", ID: 1},
		map[string]any{"body": "a"}, map[string]any{"body": "b"},
		&SaveOptions{SkipModeration: true})
	require.NoError(err)
	assert.Nil(tk)
}

func TestRecordModerationWhitelistScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	e.Register("Post", SubjectConfig{Attributes: []string{"body"}})

	tk, err := e.RecordModeration(ctx, models.SubjectRef{Type: "Post", ID: 1},
		map[string]any{}, map[string]any{"title": "bar", "body": "foo"}, nil)
	require.NoError(err)
	require.NotNil(tk)
	assert.Len(tk.InspectedAttributes, 1)
	assert.Equal(models.AttrChange{nil, "foo"}, tk.InspectedAttributes["body"])
}

func TestRecordModerationReuseOverwritesDiff(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	t1, err := e.RecordModeration(ctx, ref,
		map[string]any{}, map[string]any{"body": "foo"}, nil)
	require.NoError(err)
	require.NotNil(t1)

	t2, err := e.RecordModeration(ctx, ref,
		map[string]any{"body": "foo", "title": "x"}, map[string]any{"body": "foo", "title": "y"}, nil)
	require.NoError(err)
	require.NotNil(t2)

	// same open ticket, diff replaced rather than merged
	assert.Equal(t1.ID, t2.ID)
	assert.Len(t2.InspectedAttributes, 1)
	assert.Equal(models.AttrChange{"x", "y"}, t2.InspectedAttributes["title"])
	assert.NotContains(t2.InspectedAttributes, "body")
}

func TestRecordModerationAlwaysModerate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	e.Register("Listing", SubjectConfig{AlwaysModerate: true})
	ref := models.SubjectRef{Type: "Listing", ID: 5}

	t1, err := e.RecordModeration(ctx, ref, map[string]any{"a": 1}, map[string]any{"a": 1}, nil)
	require.NoError(err)
	require.NotNil(t1)
	first := t1.UpdatedAt

	time.Sleep(10 * time.Millisecond)

	// empty diff still touches the same ticket, bumping its queue position
	t2, err := e.RecordModeration(ctx, ref, map[string]any{"a": 1}, map[string]any{"a": 1}, nil)
	require.NoError(err)
	require.NotNil(t2)
	assert.Equal(t1.ID, t2.ID)
	assert.True(t2.UpdatedAt.After(first))

	q, err := e.AwaitingDecision(ctx, 0)
	require.NoError(err)
	assert.Len(q, 1)
}

func TestRecordModerationCallbacks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	var moderated, rejected int
	e.Register("Post", SubjectConfig{
		AfterModerated: func(ctx context.Context, t *models.Ticket) error {
			moderated++
			return nil
		},
		AfterRejection: func(ctx context.Context, t *models.Ticket) error {
			rejected++
			return nil
		},
	})
	ref := models.SubjectRef{Type: "Post", ID: 1}

	_, err := e.RecordModeration(ctx, ref, map[string]any{}, map[string]any{"body": "a"}, nil)
	require.NoError(err)
	assert.Equal(1, moderated)
	assert.Equal(0, rejected)

	// reuse does not re-fire the creation callback
	_, err = e.RecordModeration(ctx, ref, map[string]any{"body": "a"}, map[string]any{"body": "b"}, nil)
	require.NoError(err)
	assert.Equal(1, moderated)

	// a save that flips rejected on the existing ticket fires the
	// rejection callback
	mod := uint64(9)
	_, err = e.RecordModeration(ctx, ref,
		map[string]any{"body": "b"}, map[string]any{"body": "c"},
		&SaveOptions{Decision: "Spam", Moderator: &mod})
	require.NoError(err)
	assert.Equal(1, rejected)
}

func TestRecordModerationCreationAlreadyRejectedNoCallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	var rejected int
	e.Register("Post", SubjectConfig{
		AfterRejection: func(ctx context.Context, t *models.Ticket) error {
			rejected++
			return nil
		},
	})

	mod := uint64(2)
	tk, err := e.RecordModeration(ctx, models.SubjectRef{Type: "Post", ID: 3},
		map[string]any{}, map[string]any{"body": "bad"},
		&SaveOptions{Decision: "Scam", Moderator: &mod})
	require.NoError(err)
	require.NotNil(tk)
	assert.True(tk.Rejected)
	assert.Equal(0, rejected)
}

func TestApplyDecisionUnknownLabel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	tk, err := e.RecordModeration(ctx, ref, map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)
	require.NotNil(tk)

	_, err = e.ApplyDecision(ctx, tk.ID, "Sp4m", 1, nil)
	assert.ErrorIs(err, models.ErrUnknownLabel)

	_, err = e.ApplyDecision(ctx, tk.ID, 17, 1, nil)
	assert.ErrorIs(err, models.ErrUnknownLabel)

	// nothing mutated
	got, err := e.GetTicket(ctx, tk.ID)
	require.NoError(err)
	assert.True(got.Open())
	assert.Empty(got.Decision())
}

func TestApplyDecisionIdempotentTerminalFields(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	tk, err := e.RecordModeration(ctx, ref, map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)

	first, err := e.ApplyDecision(ctx, tk.ID, "Inappropriate", 4, &DecisionOptions{Reason: "not ok"})
	require.NoError(err)
	assert.Equal(models.StateClosed, first.StateID)
	assert.True(first.Rejected)
	assert.Equal("Inappropriate", first.Decision())
	assert.Equal("not ok", first.Reason)
	require.NotNil(first.ModeratorID)
	assert.EqualValues(4, *first.ModeratorID)

	time.Sleep(10 * time.Millisecond)

	second, err := e.ApplyDecision(ctx, tk.ID, "Inappropriate", 4, &DecisionOptions{Reason: "not ok"})
	require.NoError(err)
	assert.Equal(first.StateID, second.StateID)
	assert.Equal(first.Rejected, second.Rejected)
	assert.Equal(first.Decision(), second.Decision())
	assert.True(second.UpdatedAt.After(first.UpdatedAt))
}

func TestApplyDecisionByOrdinalAndStateOverride(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	tk, err := e.RecordModeration(ctx, models.SubjectRef{Type: "Post", ID: 1},
		map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)

	got, err := e.ApplyDecision(ctx, tk.ID, 1, 2, &DecisionOptions{State: "Invalid"})
	require.NoError(err)
	assert.Equal("Scam", got.Decision())
	assert.Equal(models.StateInvalid, got.StateID)
}

func TestApplyDecisionRejectionCallbackOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	var rejections int
	e.Register("Post", SubjectConfig{
		AfterRejection: func(ctx context.Context, t *models.Ticket) error {
			rejections++
			return nil
		},
	})

	tk, err := e.RecordModeration(ctx, models.SubjectRef{Type: "Post", ID: 1},
		map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)

	_, err = e.ApplyDecision(ctx, tk.ID, "Spam", 1, nil)
	require.NoError(err)
	assert.Equal(1, rejections)

	// re-applying the same decision is not a new rejection transition
	_, err = e.ApplyDecision(ctx, tk.ID, "Spam", 1, nil)
	require.NoError(err)
	assert.Equal(1, rejections)
}

func TestPostDecisionWhitelistedEditNoNewTicket(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	e.Register("Post", SubjectConfig{Attributes: []string{"body"}})
	ref := models.SubjectRef{Type: "Post", ID: 1}

	tk, err := e.RecordModeration(ctx, ref, map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)
	_, err = e.ApplyDecision(ctx, tk.ID, "Spam", 1, nil)
	require.NoError(err)

	// an edit outside the whitelist filters to an empty diff
	after, err := e.RecordModeration(ctx, ref,
		map[string]any{"title": "a", "body": "x"}, map[string]any{"title": "b", "body": "x"}, nil)
	require.NoError(err)
	assert.Nil(after)

	q, err := e.AwaitingDecision(ctx, 0)
	require.NoError(err)
	assert.Empty(q)
}

func TestFailedModeration(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	// unsaved subject
	rejected, err := e.FailedModeration(ctx, models.SubjectRef{Type: "Post", ID: 0})
	require.NoError(err)
	assert.False(rejected)

	// never moderated
	rejected, err = e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.False(rejected)

	tk, err := e.RecordModeration(ctx, ref, map[string]any{}, map[string]any{"body": "x"}, nil)
	require.NoError(err)

	rejected, err = e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.False(rejected)

	// the decision must invalidate the cached status
	_, err = e.ApplyDecision(ctx, tk.ID, "Spam", 1, nil)
	require.NoError(err)

	rejected, err = e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.True(rejected)
}

func TestMarkSubjectCreatesTicket(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 8}

	tk, err := e.MarkSubject(ctx, ref, "Scam", 3, &DecisionOptions{Reason: "fake listing"})
	require.NoError(err)
	assert.Equal(models.StateClosed, tk.StateID)
	assert.True(tk.Rejected)
	assert.Equal("Scam", tk.Decision())
	assert.Equal("fake listing", tk.Reason)

	rejected, err := e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.True(rejected)
}

func TestDecisionActionsTable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)

	actions := e.Actions()
	require.Len(actions, len(models.DecisionLabels))
	for _, label := range models.DecisionLabels {
		assert.Contains(actions, label)
	}

	tk, err := actions["Spam"](ctx, models.SubjectRef{Type: "Post", ID: 2}, 6, nil)
	require.NoError(err)
	assert.Equal("Spam", tk.Decision())
}

func TestSubjectDeletedCascades(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	e := testEngine(t)
	ref := models.SubjectRef{Type: "Post", ID: 1}

	_, err := e.MarkSubject(ctx, ref, "Spam", 1, nil)
	require.NoError(err)

	require.NoError(e.SubjectDeleted(ctx, ref))
	rejected, err := e.FailedModeration(ctx, ref)
	require.NoError(err)
	assert.False(rejected)
}
