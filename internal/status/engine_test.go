package status

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
)

type storedMessage struct {
	room      uuid.UUID
	sender    uuid.UUID
	recipient *uuid.UUID
	status    models.MessageStatus
}

// memRepo applies the same forward-only guard as the SQL update.
type memRepo struct {
	mu       sync.Mutex
	kinds    map[uuid.UUID]models.RoomKind
	members  map[uuid.UUID]map[uuid.UUID]bool
	messages map[uuid.UUID]*storedMessage
	fail     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		kinds:    map[uuid.UUID]models.RoomKind{},
		members:  map[uuid.UUID]map[uuid.UUID]bool{},
		messages: map[uuid.UUID]*storedMessage{},
	}
}

func (r *memRepo) room(kind models.RoomKind, members ...uuid.UUID) uuid.UUID {
	id := uuid.New()
	r.kinds[id] = kind
	r.members[id] = map[uuid.UUID]bool{}
	for _, m := range members {
		r.members[id][m] = true
	}
	return id
}

func (r *memRepo) message(room, sender uuid.UUID, recipient *uuid.UUID) uuid.UUID {
	id := uuid.New()
	r.messages[id] = &storedMessage{room: room, sender: sender, recipient: recipient}
	return id
}

func (r *memRepo) statusOf(id uuid.UUID) models.MessageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id].status
}

func (r *memRepo) LoadStatusCandidates(_ context.Context, ids []uuid.UUID, requester uuid.UUID) ([]models.StatusCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	var out []models.StatusCandidate
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok {
			continue
		}
		out = append(out, models.StatusCandidate{
			ID:                id,
			RoomID:            m.room,
			RoomKind:          r.kinds[m.room],
			SenderID:          m.sender,
			RecipientID:       m.recipient,
			Status:            m.status,
			RequesterIsMember: r.members[m.room][requester],
		})
	}
	return out, nil
}

func (r *memRepo) AdvanceStatus(_ context.Context, ids []uuid.UUID, target models.MessageStatus) ([]models.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	var out []models.StatusChange
	for _, id := range ids {
		m := r.messages[id]
		if m.status >= target {
			continue
		}
		m.status = target
		out = append(out, models.StatusChange{ID: id, RoomID: m.room, RoomKind: r.kinds[m.room], SenderID: m.sender, RecipientID: m.recipient})
	}
	return out, nil
}

type published struct {
	room   *uuid.UUID
	user   *uuid.UUID
	update models.StatusUpdateData
}

type recordingPublisher struct {
	mu  sync.Mutex
	out []published
}

func (p *recordingPublisher) record(room, user *uuid.UUID, ev models.Event) {
	var data models.StatusUpdateData
	_ = json.Unmarshal(ev.Data, &data)
	p.mu.Lock()
	p.out = append(p.out, published{room: room, user: user, update: data})
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userID uuid.UUID, ev models.Event, _ ...fanout.PublishOption) error {
	p.record(nil, &userID, ev)
	return nil
}

func (p *recordingPublisher) PublishToRoom(_ context.Context, roomID uuid.UUID, ev models.Event, _ ...fanout.PublishOption) error {
	p.record(&roomID, nil, ev)
	return nil
}

func (p *recordingPublisher) events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.out...)
}

func newEngine(repo Repository, pub Publisher) *Engine {
	return NewEngine(repo, pub, zerolog.Nop())
}

func TestAdvanceGroupMessagesPublishesOncePerRoom(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	sender, reader := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender, reader)
	m1 := repo.message(room, sender, nil)
	m2 := repo.message(room, sender, nil)

	res, err := newEngine(repo, pub).MarkDelivered(context.Background(), []uuid.UUID{m1, m2, m1}, reader)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{m1, m2}, res.Updated)
	require.Zero(t, res.Skipped)

	events := pub.events()
	require.Len(t, events, 1)
	require.Equal(t, room, *events[0].room)
	require.Equal(t, models.StatusDelivered, events[0].update.Status)
	require.Equal(t, reader, events[0].update.UpdatedBy)
	require.ElementsMatch(t, []uuid.UUID{m1, m2}, events[0].update.MessageIDs)
}

func TestAdvanceByNonMemberUpdatesNothing(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	sender, outsider := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender)
	msg := repo.message(room, sender, nil)

	res, err := newEngine(repo, pub).Advance(context.Background(), []uuid.UUID{msg}, models.StatusDelivered, outsider)
	require.NoError(t, err)
	require.Empty(t, res.Updated)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, models.StatusSent, repo.statusOf(msg))
	require.Empty(t, pub.events())
}

func TestAdvancePrivateRequiresRecipient(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	sender, recipient := uuid.New(), uuid.New()
	room := repo.room(models.RoomPrivate, sender, recipient)
	msg := repo.message(room, sender, &recipient)
	engine := newEngine(repo, pub)

	// the sender is a member but not the recipient
	res, err := engine.MarkSeen(context.Background(), []uuid.UUID{msg}, sender)
	require.NoError(t, err)
	require.Empty(t, res.Updated)
	require.Equal(t, models.StatusSent, repo.statusOf(msg))

	res, err = engine.MarkSeen(context.Background(), []uuid.UUID{msg}, recipient)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{msg}, res.Updated)

	events := pub.events()
	require.Len(t, events, 2)
	var users []uuid.UUID
	for _, ev := range events {
		require.Nil(t, ev.room)
		users = append(users, *ev.user)
	}
	require.ElementsMatch(t, []uuid.UUID{sender, recipient}, users)
}

func TestAdvanceNeverRegresses(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	sender, reader := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender, reader)
	msg := repo.message(room, sender, nil)
	engine := newEngine(repo, pub)
	ctx := context.Background()

	_, err := engine.MarkSeen(ctx, []uuid.UUID{msg}, reader)
	require.NoError(t, err)

	res, err := engine.MarkDelivered(ctx, []uuid.UUID{msg}, reader)
	require.NoError(t, err)
	require.Empty(t, res.Updated)
	require.Equal(t, models.StatusSeen, repo.statusOf(msg))

	res, err = engine.MarkSeen(ctx, []uuid.UUID{msg}, reader)
	require.NoError(t, err)
	require.Empty(t, res.Updated)
	require.Len(t, pub.events(), 1)
}

func TestConcurrentAdvanceKeepsHighestStatus(t *testing.T) {
	repo := newMemRepo()
	sender, reader := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender, reader)
	msg := repo.message(room, sender, nil)
	engine := newEngine(repo, &recordingPublisher{})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		target := models.StatusDelivered
		if i%2 == 0 {
			target = models.StatusSeen
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Advance(context.Background(), []uuid.UUID{msg}, target, reader)
		}()
	}
	wg.Wait()

	require.Equal(t, models.StatusSeen, repo.statusOf(msg))
}

func TestAdvancePartialSuccess(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	sender, reader := uuid.New(), uuid.New()
	mine := repo.room(models.RoomGroup, sender, reader)
	other := repo.room(models.RoomGroup, sender)
	ok := repo.message(mine, sender, nil)
	denied := repo.message(other, sender, nil)

	res, err := newEngine(repo, pub).MarkDelivered(context.Background(), []uuid.UUID{ok, denied, uuid.New()}, reader)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ok}, res.Updated)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, models.StatusSent, repo.statusOf(denied))
}

func TestAdvanceRejectsInvalidTarget(t *testing.T) {
	_, err := newEngine(newMemRepo(), &recordingPublisher{}).Advance(context.Background(), []uuid.UUID{uuid.New()}, models.StatusSent, uuid.New())
	require.True(t, apperror.Is(err, apperror.KindInvalidInput))
}

func TestAdvanceEmptyInput(t *testing.T) {
	res, err := newEngine(newMemRepo(), &recordingPublisher{}).MarkSeen(context.Background(), nil, uuid.New())
	require.NoError(t, err)
	require.Empty(t, res.Updated)
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishToUser(ctx context.Context, userID uuid.UUID, ev models.Event, opts ...fanout.PublishOption) error {
	return m.Called(ctx, userID, ev).Error(0)
}

func (m *publisherMock) PublishToRoom(ctx context.Context, roomID uuid.UUID, ev models.Event, opts ...fanout.PublishOption) error {
	return m.Called(ctx, roomID, ev).Error(0)
}

func TestStorageFailureAbortsWithoutPublishing(t *testing.T) {
	repo := newMemRepo()
	sender, reader := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender, reader)
	msg := repo.message(room, sender, nil)
	repo.fail = assert.AnError
	pub := new(publisherMock)

	_, err := newEngine(repo, pub).MarkDelivered(context.Background(), []uuid.UUID{msg}, reader)
	require.True(t, apperror.Is(err, apperror.KindTransientIO))
	require.ErrorIs(t, err, assert.AnError)
	pub.AssertNotCalled(t, "PublishToRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishFailureDoesNotFailCommittedUpdate(t *testing.T) {
	repo := newMemRepo()
	sender, reader := uuid.New(), uuid.New()
	room := repo.room(models.RoomGroup, sender, reader)
	msg := repo.message(room, sender, nil)
	pub := new(publisherMock)
	pub.On("PublishToRoom", mock.Anything, room, mock.Anything).Return(assert.AnError).Once()

	res, err := newEngine(repo, pub).MarkDelivered(context.Background(), []uuid.UUID{msg}, reader)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{msg}, res.Updated)
	require.Equal(t, models.StatusDelivered, repo.statusOf(msg))
	pub.AssertExpectations(t)
}
