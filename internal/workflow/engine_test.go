package workflow

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/testutil"
)

var testStart = time.Date(2030, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []model.TransitionEvent
	err    error
}

func (s *recordingSink) Emit(_ context.Context, ev model.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubLocks struct {
	status lock.Status
}

func (s *stubLocks) Check(_ context.Context, contentID int64) lock.Status {
	st := s.status
	st.ContentID = contentID
	return st
}

type testEnv struct {
	db        *sql.DB
	repo      *store.ContentRepository
	engine    *Engine
	clock     *testutil.Clock
	sink      *recordingSink
	locks     *stubLocks
	editor    int64
	reviewer  int64
	publisher int64
	admin     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	env := &testEnv{
		db:    db,
		repo:  store.NewContentRepository(db),
		clock: testutil.NewClock(testStart),
		sink:  &recordingSink{},
		locks: &stubLocks{},
	}
	env.engine = NewEngine(env.repo, store.NewUserRoles(db), testutil.TestLoggerSilent(),
		WithClock(env.clock.Now),
		WithSink(env.sink),
		WithLocks(env.locks),
	)
	env.editor = testutil.CreateUser(t, db, model.RoleEditor)
	env.reviewer = testutil.CreateUser(t, db, model.RoleReviewer)
	env.publisher = testutil.CreateUser(t, db, model.RolePublisher)
	env.admin = testutil.CreateUser(t, db, model.RoleAdmin)
	return env
}

func (env *testEnv) newContent(t *testing.T) *model.Content {
	t.Helper()
	c, err := env.engine.CreateContent(context.Background(), env.editor, NewContent{Title: "Draft", Body: "body"})
	require.NoError(t, err)
	return c
}

// forceState moves content directly to state through the repository,
// bypassing the rule table.
func (env *testEnv) forceState(t *testing.T, c *model.Content, state model.State) *model.Content {
	t.Helper()
	next := *c
	next.State = state
	next.UpdatedAt = env.clock.Now()
	rec := model.Transition{
		FromState: c.State,
		ToState:   state,
		Action:    model.ActionSaveDraft,
		ActorID:   env.admin,
		CreatedAt: env.clock.Now(),
	}
	require.NoError(t, env.repo.CommitTransition(context.Background(), &next, &rec))
	return &next
}

func (env *testEnv) historyLen(t *testing.T, id int64) int {
	t.Helper()
	h, err := env.engine.History(context.Background(), id)
	require.NoError(t, err)
	return len(h)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestApplyTransition_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)

	steps := []struct {
		action model.Action
		actor  int64
		tc     TransitionContext
		want   model.State
	}{
		{model.ActionSubmitReview, env.editor, TransitionContext{}, model.StateSubmitted},
		{model.ActionApprove, env.reviewer, TransitionContext{Reason: "  looks good "}, model.StateApproved},
		{model.ActionPublish, env.publisher, TransitionContext{UnpublishAt: timePtr(testStart.Add(24 * time.Hour))}, model.StatePublished},
		{model.ActionUnpublish, env.publisher, TransitionContext{}, model.StateUnpublished},
		{model.ActionSaveDraft, env.editor, TransitionContext{}, model.StateDraft},
	}

	prev := model.StateDraft
	for i, step := range steps {
		res, err := env.engine.ApplyTransition(ctx, c.ID, step.action, step.actor, step.tc)
		require.NoError(t, err, "step %d (%s)", i, step.action)

		assert.Equal(t, step.want, res.Content.State)
		assert.Equal(t, int64(i+2), res.Content.Version)
		assert.Equal(t, prev, res.Transition.FromState)
		assert.Equal(t, step.want, res.Transition.ToState)
		assert.Equal(t, step.actor, res.Transition.ActorID)
		assert.Equal(t, res.Content.Version, res.Transition.Version)
		assert.Equal(t, i+1, env.historyLen(t, c.ID))
		prev = step.want
	}

	history, err := env.engine.History(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "looks good", history[1].Reason)
	assert.Equal(t, len(steps), env.sink.count())
}

func TestApplyTransition_PublishRecordsTimes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.forceState(t, env.newContent(t), model.StateApproved)

	until := testStart.Add(48 * time.Hour)
	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, env.publisher, TransitionContext{UnpublishAt: &until})
	require.NoError(t, err)

	stored, err := env.engine.Content(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, stored.PublishedAt.Valid)
	assert.True(t, stored.PublishedAt.Time.Equal(testStart))
	require.True(t, stored.UnpublishAt.Valid)
	assert.True(t, stored.UnpublishAt.Time.Equal(until))
	assert.True(t, stored.IsPublished())
	assert.Equal(t, stored.Version, res.Content.Version)
}

func TestApplyTransition_IllegalPairs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legal := map[model.State][]model.Action{
		model.StateDraft:       {model.ActionSubmitReview, model.ActionSaveDraft},
		model.StateRejected:    {model.ActionSubmitReview, model.ActionSaveDraft},
		model.StateSubmitted:   {model.ActionApprove, model.ActionReject, model.ActionSaveDraft},
		model.StateApproved:    {model.ActionPublish, model.ActionSchedule, model.ActionSaveDraft},
		model.StateScheduled:   {model.ActionPublish},
		model.StatePublished:   {model.ActionUnpublish, model.ActionSaveDraft},
		model.StateUnpublished: {model.ActionSaveDraft},
	}

	for _, state := range model.AllStates() {
		for _, action := range model.AllActions() {
			if containsAction(legal[state], action) {
				continue
			}
			t.Run(string(state)+"/"+string(action), func(t *testing.T) {
				c := env.newContent(t)
				if state != model.StateDraft {
					c = env.forceState(t, c, state)
				}
				before := env.historyLen(t, c.ID)
				events := env.sink.count()

				_, err := env.engine.ApplyTransition(ctx, c.ID, action, env.admin, TransitionContext{})
				require.ErrorIs(t, err, ErrInvalidTransition)

				stored, err := env.engine.Content(ctx, c.ID)
				require.NoError(t, err)
				assert.Equal(t, state, stored.State)
				assert.Equal(t, c.Version, stored.Version)
				assert.Equal(t, before, env.historyLen(t, c.ID))
				assert.Equal(t, events, env.sink.count())
			})
		}
	}
}

func containsAction(list []model.Action, a model.Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func TestApplyTransition_UnknownActionAndMissingContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)

	_, err := env.engine.ApplyTransition(ctx, c.ID, model.Action("archive"), env.admin, TransitionContext{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.engine.ApplyTransition(ctx, c.ID+1000, model.ActionSubmitReview, env.editor, TransitionContext{})
	assert.ErrorIs(t, err, ErrNotFound)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, c.ID+1000, werr.ContentID)
}

func TestApplyTransition_Permissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		state  model.State
		action model.Action
		actor  func() int64
		tc     TransitionContext
		allow  bool
	}{
		{"editor cannot approve", model.StateSubmitted, model.ActionApprove, func() int64 { return env.editor }, TransitionContext{}, false},
		{"reviewer cannot publish", model.StateApproved, model.ActionPublish, func() int64 { return env.reviewer }, TransitionContext{}, false},
		{"publisher cannot submit", model.StateDraft, model.ActionSubmitReview, func() int64 { return env.publisher }, TransitionContext{}, false},
		{"system cannot submit", model.StateDraft, model.ActionSubmitReview, func() int64 { return model.SystemActorID }, TransitionContext{}, false},
		{"system cannot save draft", model.StatePublished, model.ActionSaveDraft, func() int64 { return model.SystemActorID }, TransitionContext{}, false},
		{"unknown user denied", model.StateDraft, model.ActionSubmitReview, func() int64 { return 99999 }, TransitionContext{}, false},
		{"admin may approve", model.StateSubmitted, model.ActionApprove, func() int64 { return env.admin }, TransitionContext{}, true},
		{"admin may reject", model.StateSubmitted, model.ActionReject, func() int64 { return env.admin }, TransitionContext{}, true},
		{"reviewer may reject", model.StateSubmitted, model.ActionReject, func() int64 { return env.reviewer }, TransitionContext{}, true},
		{"editor may resubmit rejected", model.StateRejected, model.ActionSubmitReview, func() int64 { return env.editor }, TransitionContext{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.newContent(t)
			if tt.state != model.StateDraft {
				c = env.forceState(t, c, tt.state)
			}
			_, err := env.engine.ApplyTransition(ctx, c.ID, tt.action, tt.actor(), tt.tc)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrPermissionDenied)
			stored, err := env.engine.Content(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.state, stored.State)
		})
	}
}

func TestApplyTransition_HumanCannotPublishScheduled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.forceState(t, env.newContent(t), model.StateApproved)

	_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSchedule, env.publisher, TransitionContext{PublishAt: timePtr(testStart.Add(time.Hour))})
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, env.publisher, TransitionContext{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, env.admin, TransitionContext{})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, model.SystemActorID, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StatePublished, res.Content.State)
	assert.True(t, res.Transition.IsSystem())
}

func TestApplyTransition_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	past := testStart.Add(-time.Minute)
	future := testStart.Add(time.Hour)

	tests := []struct {
		name   string
		state  model.State
		action model.Action
		actor  func() int64
		tc     TransitionContext
	}{
		{"schedule without publish_at", model.StateApproved, model.ActionSchedule, func() int64 { return env.publisher }, TransitionContext{}},
		{"schedule in the past", model.StateApproved, model.ActionSchedule, func() int64 { return env.publisher }, TransitionContext{PublishAt: &past}},
		{"schedule at now", model.StateApproved, model.ActionSchedule, func() int64 { return env.publisher }, TransitionContext{PublishAt: timePtr(testStart)}},
		{"unpublish before publish", model.StateApproved, model.ActionSchedule, func() int64 { return env.publisher }, TransitionContext{PublishAt: &future, UnpublishAt: timePtr(future.Add(-time.Second))}},
		{"publish with past unpublish_at", model.StateApproved, model.ActionPublish, func() int64 { return env.publisher }, TransitionContext{UnpublishAt: &past}},
		{"system unpublish without unpublish_at", model.StatePublished, model.ActionUnpublish, func() int64 { return model.SystemActorID }, TransitionContext{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.forceState(t, env.newContent(t), tt.state)
			before := env.historyLen(t, c.ID)

			_, err := env.engine.ApplyTransition(ctx, c.ID, tt.action, tt.actor(), tt.tc)
			require.ErrorIs(t, err, ErrPreconditionFailed)

			stored, err := env.engine.Content(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.state, stored.State)
			assert.Equal(t, before, env.historyLen(t, c.ID))
		})
	}
}

func TestApplyTransition_SystemTimingPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.forceState(t, env.newContent(t), model.StateApproved)

	publishAt := testStart.Add(time.Hour)
	unpublishAt := testStart.Add(2 * time.Hour)
	_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSchedule, env.publisher, TransitionContext{PublishAt: &publishAt, UnpublishAt: &unpublishAt})
	require.NoError(t, err)

	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, model.SystemActorID, TransitionContext{})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	env.clock.Set(publishAt)
	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionPublish, model.SystemActorID, TransitionContext{})
	require.NoError(t, err)

	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionUnpublish, model.SystemActorID, TransitionContext{})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	env.clock.Set(unpublishAt)
	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionUnpublish, model.SystemActorID, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StateUnpublished, res.Content.State)
	assert.False(t, res.Content.UnpublishAt.Valid)
}

func TestApplyTransition_ExpectedVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)

	_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSubmitReview, env.editor, TransitionContext{ExpectedVersion: c.Version + 1})
	require.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 0, env.historyLen(t, c.ID))

	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSubmitReview, env.editor, TransitionContext{ExpectedVersion: c.Version})
	require.NoError(t, err)
	assert.Equal(t, c.Version+1, res.Content.Version)
}

func TestApplyTransition_ConcurrentSameVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			title := "edit"
			if i%2 == 0 {
				title = "other edit"
			}
			_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSaveDraft, env.editor, TransitionContext{
				ExpectedVersion: c.Version,
				Title:           &title,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentModification):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, env.historyLen(t, c.ID))

	stored, err := env.engine.Content(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Version+1, stored.Version)
}

func TestApplyTransition_SaveDraftRespectsLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)
	other := testutil.CreateUser(t, env.db, model.RoleEditor)

	env.locks.status = lock.Status{Locked: true, OwnerID: other, ExpiresAt: testStart.Add(time.Minute)}

	title := "mine"
	_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSaveDraft, env.editor, TransitionContext{Title: &title})
	require.ErrorIs(t, err, lock.ErrLockHeld)
	var held *lock.HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, other, held.HolderID)
	assert.Equal(t, 0, env.historyLen(t, c.ID))

	// Other transitions ignore edit locks.
	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionSubmitReview, env.editor, TransitionContext{})
	require.NoError(t, err)

	// The holder may save.
	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSaveDraft, other, TransitionContext{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "mine", res.Content.Title)
	assert.Equal(t, model.StateDraft, res.Content.State)
}

func TestApplyTransition_SaveDraftEditsPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.forceState(t, env.newContent(t), model.StatePublished)

	title, body := "  New title ", "new body"
	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSaveDraft, env.editor, TransitionContext{Title: &title, Body: &body})
	require.NoError(t, err)
	assert.Equal(t, "New title", res.Content.Title)
	assert.Equal(t, "new body", res.Content.Body)
	assert.Equal(t, model.StateDraft, res.Content.State)

	blank := " "
	_, err = env.engine.ApplyTransition(ctx, c.ID, model.ActionSaveDraft, env.editor, TransitionContext{Title: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyTransition_SinkBehaviour(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.newContent(t)

	// Failed transitions emit nothing.
	_, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionApprove, env.reviewer, TransitionContext{})
	require.Error(t, err)
	assert.Equal(t, 0, env.sink.count())

	// A failing sink never fails the transition.
	env.sink.err = errors.New("sink down")
	res, err := env.engine.ApplyTransition(ctx, c.ID, model.ActionSubmitReview, env.editor, TransitionContext{})
	require.NoError(t, err)
	require.Equal(t, 1, env.sink.count())

	ev := env.sink.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, res.Transition.ID, ev.Transition.ID)
	assert.Equal(t, "Draft", ev.Title)
	assert.True(t, ev.OccurredAt.Equal(testStart))
}

func TestCreateContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.engine.CreateContent(ctx, env.admin, NewContent{Title: "Admin post", AccessLevel: model.AccessPrivate})
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, c.State)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, model.AccessPrivate, c.AccessLevel)

	_, err = env.engine.CreateContent(ctx, env.reviewer, NewContent{Title: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.engine.CreateContent(ctx, model.SystemActorID, NewContent{Title: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.engine.CreateContent(ctx, env.editor, NewContent{Title: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.engine.CreateContent(ctx, env.editor, NewContent{Title: "x", AccessLevel: "secret"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAvailableActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.forceState(t, env.newContent(t), model.StateSubmitted)

	tests := []struct {
		name  string
		actor int64
		want  []model.Action
	}{
		{"reviewer", env.reviewer, []model.Action{model.ActionApprove, model.ActionReject}},
		{"editor", env.editor, []model.Action{model.ActionSaveDraft}},
		{"admin", env.admin, []model.Action{model.ActionApprove, model.ActionReject, model.ActionSaveDraft}},
		{"publisher", env.publisher, []model.Action{}},
		{"unknown", 424242, []model.Action{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.engine.AvailableActions(ctx, c.ID, tt.actor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := env.engine.AvailableActions(ctx, c.ID+500, env.admin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&Error{Kind: ErrNotFound}, "not_found"},
		{&Error{Kind: ErrInvalidTransition}, "invalid_transition"},
		{&Error{Kind: ErrPermissionDenied}, "permission_denied"},
		{&Error{Kind: ErrPreconditionFailed}, "precondition_failed"},
		{&Error{Kind: ErrConcurrentModification}, "conflict"},
		{&lock.HeldError{ContentID: 1, HolderID: 2}, "lock_held"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResultLabel(tt.err))
	}
}
