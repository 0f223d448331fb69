package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/dispatch"
	"github.com/anonto42/nano-midea/pulse/internal/events"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/presence"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const postID = "65f1a2b3c4d5e6f708192a3b"

type recordingPusher struct {
	mu   sync.Mutex
	sent map[string][]models.Envelope
}

func (p *recordingPusher) Send(ctx context.Context, connID string, payload []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[connID] = append(p.sent[connID], env)
	return nil
}

func (p *recordingPusher) received(connID string) []models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Envelope(nil), p.sent[connID]...)
}

type names map[uint]string

func (n names) DisplayNames(ctx context.Context, ids ...uint) (map[uint]string, error) {
	return n, nil
}

type harness struct {
	svc    *Service
	store  repositories.NotificationRepository
	reg    *presence.Registry
	pusher *recordingPusher
}

func newHarness(t *testing.T, store repositories.NotificationRepository) *harness {
	t.Helper()
	log := zap.NewNop()
	if store == nil {
		store = repositories.NewMemoryNotificationRepository(nil)
	}
	reg := presence.NewRegistry()
	pusher := &recordingPusher{sent: map[string][]models.Envelope{}}

	bus := events.NewBus(log)
	d := dispatch.New(store, reg, pusher, names{1: "Alice", 2: "Bob"}, dispatch.Config{Logger: log})
	bus.Subscribe("dispatch", d.Handle)
	t.Cleanup(func() { bus.Close(context.Background()) })

	return &harness{
		svc:    NewService(bus, store, reg, events.NewClock(), nil, log),
		store:  store,
		reg:    reg,
		pusher: pusher,
	}
}

func likeInput(actor, recipient uint) models.EmitInput {
	return models.EmitInput{Kind: models.KindLike, ActorID: actor, RecipientID: recipient, SubjectRef: postID, PostID: postID}
}

func TestEmit_OfflineRecipientCatchesUpOnReconnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	}

	h.svc.OnReconnect("bob-1", 2)
	backfill, err := h.svc.Backfill(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), backfill.UnreadCount)
	require.Len(t, backfill.Notifications, 3)
	for i := 1; i < len(backfill.Notifications); i++ {
		assert.False(t, backfill.Notifications[i].CreatedAt.After(backfill.Notifications[i-1].CreatedAt))
	}
	assert.Empty(t, h.pusher.received("bob-1"), "nothing was pushed while offline")

	// once present again, new events are pushed live
	require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	got := h.pusher.received("bob-1")
	require.Len(t, got, 1)
	assert.Equal(t, string(models.KindLike), got[0].Type)

	again, err := h.svc.Backfill(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), again.UnreadCount)
}

func TestEmit_SelfActionLeavesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.OnConnect("alice", 1)

	require.NoError(t, h.svc.Emit(context.Background(), likeInput(1, 1)))

	count, err := h.svc.CountUnread(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, h.pusher.received("alice"))
}

func TestEmit_MarkAllReadThenNewLike(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	}

	updated, err := h.svc.MarkAllRead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)

	require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	count, err := h.svc.CountUnread(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	unread, err := h.svc.List(ctx, 2, repositories.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestEmit_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := map[string]models.EmitInput{
		"missing recipient": {Kind: models.KindLike, ActorID: 1, SubjectRef: postID},
		"unknown kind":      {Kind: "POKE", ActorID: 1, RecipientID: 2, SubjectRef: postID},
		"missing actor":     {Kind: models.KindFollow, RecipientID: 2, SubjectRef: "2"},
		"bad post id":       {Kind: models.KindPostCreated, ActorID: 1, SubjectRef: postID, PostID: "x"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, h.svc.Emit(ctx, in), models.ErrInvalidEvent)
		})
	}

	// broadcasts need no recipient
	assert.NoError(t, h.svc.Emit(ctx, models.EmitInput{
		Kind: models.KindPostCreated, ActorID: 1, SubjectRef: postID, PostID: postID,
	}))
}

func TestEmit_PersistenceFailureIsAWarning(t *testing.T) {
	down := fmt.Errorf("create notification: %w: %w", models.ErrPersistenceUnavailable, errors.New("timeout"))
	h := newHarness(t, &failingStore{err: down})
	h.svc.OnConnect("bob", 2)

	err := h.svc.Emit(context.Background(), likeInput(1, 2))

	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	assert.Len(t, h.pusher.received("bob"), 1, "the push still went out")
}

func TestEmit_BroadcastToRooms(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.OnConnect("viewer", 5)
	require.NoError(t, h.svc.OnJoinRoom("viewer", presence.PostRoom(postID)))

	require.NoError(t, h.svc.Emit(context.Background(), models.EmitInput{
		Kind: models.KindPostCommentsUpdated, ActorID: 1, SubjectRef: postID, PostID: postID,
		Data: map[string]any{"comments_count": 7},
	}))

	got := h.pusher.received("viewer")
	require.Len(t, got, 1)
	assert.Equal(t, string(models.KindPostCommentsUpdated), got[0].Type)

	h.svc.OnLeaveRoom("viewer", presence.PostRoom(postID))
	require.NoError(t, h.svc.Emit(context.Background(), models.EmitInput{
		Kind: models.KindPostCommentsUpdated, ActorID: 1, SubjectRef: postID, PostID: postID,
	}))
	assert.Len(t, h.pusher.received("viewer"), 1)
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.svc.OnJoinRoom("c1", "user:2"), models.ErrInvalidRoom)
	assert.NoError(t, h.svc.OnJoinRoom("ghost", presence.FeedRoom), "unknown connections are a no-op")
	assert.Empty(t, h.reg.ConnectionsInRoom(presence.FeedRoom))

	h.svc.OnConnect("c1", 2)
	require.NoError(t, h.svc.OnJoinRoom("c1", presence.FeedRoom))
	assert.Equal(t, []string{"c1"}, h.reg.ConnectionsFor(2))

	h.svc.OnDisconnect("c1")
	assert.Empty(t, h.reg.ConnectionsFor(2))
	assert.Empty(t, h.reg.ConnectionsInRoom(presence.FeedRoom))
}

func TestEmit_TimestampsNeverGoBackwards(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	}

	list, err := h.svc.List(ctx, 2, repositories.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 20)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i].ID < list[i-1].ID)
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt))
	}
	assert.WithinDuration(t, time.Now(), list[0].CreatedAt, time.Minute)
}

func TestEmit_CommentReachesOnlyThePostAuthor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.svc.OnConnect("alice", 1)
	h.svc.OnConnect("bob", 2)

	comment := &models.Comment{PostID: postID, UserID: 1, Content: "nice shot"}
	comment.ID = 31
	require.NoError(t, h.svc.Emit(ctx, comment.CommentedEvent(2)))
	require.NoError(t, h.svc.Emit(ctx, models.PostEvent(models.KindPostCommentsUpdated, 1, postID, map[string]any{"comments_count": 1})))

	got := h.pusher.received("bob")
	require.Len(t, got, 1)
	assert.Equal(t, string(models.KindComment), got[0].Type)
	data, ok := got[0].Data.(map[string]any)
	require.True(t, ok)
	n, ok := data["notification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `Alice commented on your post: "nice shot"`, n["message"])

	bobUnread, err := h.svc.CountUnread(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bobUnread)
	list, err := h.svc.List(ctx, 2, repositories.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.KindComment, list[0].Kind)
	assert.False(t, list[0].IsRead)

	assert.Empty(t, h.pusher.received("alice"))
	aliceUnread, err := h.svc.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, aliceUnread)
}

func TestEmit_FollowReachesEveryDeviceUntilDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.svc.OnConnect("c1", 2)
	h.svc.OnConnect("c2", 2)

	require.NoError(t, h.svc.Emit(ctx, (&models.Follow{FollowerID: 1, FollowingID: 2}).FollowedEvent()))
	for _, conn := range []string{"c1", "c2"} {
		got := h.pusher.received(conn)
		require.Len(t, got, 1, conn)
		assert.Equal(t, string(models.KindFollow), got[0].Type, conn)
	}

	h.svc.OnDisconnect("c1")
	require.NoError(t, h.svc.Emit(ctx, (&models.Follow{FollowerID: 3, FollowingID: 2}).FollowedEvent()))

	assert.Len(t, h.pusher.received("c1"), 1, "closed connection gets nothing new")
	got := h.pusher.received("c2")
	require.Len(t, got, 2)
	assert.Equal(t, string(models.KindFollow), got[1].Type)
}

func TestMarkAllRead_ClearsEveryUnreadRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	}
	_, err := h.svc.MarkAllRead(ctx, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.Emit(ctx, likeInput(1, 2)))
	}

	count, err := h.svc.CountUnread(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	updated, err := h.svc.MarkAllRead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)

	count, err = h.svc.CountUnread(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err := h.svc.List(ctx, 2, repositories.ListOptions{Limit: 50})
	require.NoError(t, err)
	require.Len(t, list, 10)
	for _, n := range list {
		assert.True(t, n.IsRead, "notification %d", n.ID)
	}
}

func TestEmit_MalformedEventLogsAWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	bus := events.NewBus(log)
	t.Cleanup(func() { bus.Close(context.Background()) })
	svc := NewService(bus, repositories.NewMemoryNotificationRepository(nil), presence.NewRegistry(), events.NewClock(), nil, log)

	err := svc.Emit(context.Background(), models.EmitInput{Kind: models.KindLike, ActorID: 1, SubjectRef: postID})
	require.ErrorIs(t, err, models.ErrInvalidEvent)

	rejected := logs.FilterMessage("rejected malformed event").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

type failingStore struct {
	err error
}

func (f *failingStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return f.err
}

func (f *failingStore) ListForRecipient(ctx context.Context, recipientID uint, opts repositories.ListOptions) ([]models.Notification, error) {
	return nil, f.err
}

func (f *failingStore) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	return 0, f.err
}

func (f *failingStore) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	return 0, f.err
}
