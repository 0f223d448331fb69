package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/presence"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postID = "65f1a2b3c4d5e6f708192a3b"

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakePusher struct {
	mu   sync.Mutex
	sent map[string][][]byte

	// per-connection behaviour; nil means deliver
	behave func(ctx context.Context, connID string) error
}

func newFakePusher() *fakePusher {
	return &fakePusher{sent: map[string][][]byte{}}
}

func (p *fakePusher) Send(ctx context.Context, connID string, payload []byte) error {
	if p.behave != nil {
		if err := p.behave(ctx, connID); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[connID] = append(p.sent[connID], payload)
	return nil
}

func (p *fakePusher) envelopes(t *testing.T, connID string) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]any
	for _, raw := range p.sent[connID] {
		var env map[string]any
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

type directory map[uint]string

func (d directory) DisplayNames(ctx context.Context, ids ...uint) (map[uint]string, error) {
	out := map[uint]string{}
	for _, id := range ids {
		if name, ok := d[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type mockStore struct {
	repositories.NotificationRepository
	createFn func(ctx context.Context, n *models.Notification) error
	countFn  func(ctx context.Context, recipientID uint) (int64, error)
}

func (m *mockStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return m.createFn(ctx, n)
}

func (m *mockStore) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	return m.countFn(ctx, recipientID)
}

type fixture struct {
	store    *repositories.MemoryNotificationRepository
	registry *presence.Registry
	pusher   *fakePusher
	d        *Dispatcher
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:    repositories.NewMemoryNotificationRepository(nil),
		registry: presence.NewRegistry(),
		pusher:   newFakePusher(),
	}
	f.d = New(f.store, f.registry, f.pusher, directory{1: "Alice", 2: "Bob", 3: "Carol"}, cfg)
	return f
}

func like(actor, recipient uint) models.Event {
	return models.Event{
		ID: "evt-like", Kind: models.KindLike, ActorID: actor, RecipientID: recipient,
		SubjectRef: postID, PostID: postID, OccurredAt: at,
	}
}

func TestDispatch_LikeNotifiesOnlineAuthor(t *testing.T) {
	f := newFixture(Config{})
	f.registry.Join("bob-phone", 2)
	f.registry.Join("bob-laptop", 2)
	f.registry.Join("carol", 3)

	out := f.d.Dispatch(context.Background(), like(1, 2))

	assert.Equal(t, []State{StateReceived, StatePersisted, StateFannedOut, StateDone}, out.States)
	assert.NoError(t, out.Warning)
	assert.Equal(t, 2, out.Delivered)

	stored, err := f.store.ListForRecipient(context.Background(), 2, repositories.ListOptions{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Alice liked your post", stored[0].Message)
	assert.Equal(t, at, stored[0].CreatedAt)

	for _, conn := range []string{"bob-phone", "bob-laptop"} {
		envs := f.pusher.envelopes(t, conn)
		require.Len(t, envs, 1, conn)
		assert.Equal(t, "LIKE", envs[0]["type"])
		data := envs[0]["data"].(map[string]any)
		assert.Equal(t, float64(1), data["unread_count"])
		assert.Equal(t, "Alice liked your post", data["notification"].(map[string]any)["message"])
		assert.Equal(t, at.Format(time.RFC3339Nano), envs[0]["meta"].(map[string]any)["timestamp"])
	}
	assert.Empty(t, f.pusher.envelopes(t, "carol"))
}

func TestDispatch_SelfActionIsSkipped(t *testing.T) {
	f := newFixture(Config{})
	f.registry.Join("alice", 1)

	out := f.d.Dispatch(context.Background(), like(1, 1))

	assert.Equal(t, []State{StateReceived, StateSkippedSelf, StateDone}, out.States)
	assert.NoError(t, out.Warning)
	assert.Nil(t, out.Notification)
	assert.Empty(t, f.pusher.envelopes(t, "alice"))

	count, err := f.store.CountUnread(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatch_OfflineRecipientStillGetsRecord(t *testing.T) {
	f := newFixture(Config{})

	out := f.d.Dispatch(context.Background(), models.Event{
		ID: "evt-follow", Kind: models.KindFollow, ActorID: 3, RecipientID: 2, SubjectRef: "3", OccurredAt: at,
	})

	assert.Equal(t, StateDone, out.Final())
	assert.Zero(t, out.Targets)
	count, err := f.store.CountUnread(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDispatch_BroadcastReachesFeedAndPostRoomsOnce(t *testing.T) {
	f := newFixture(Config{})
	f.registry.Join("feed-only", 5)
	f.registry.Join("both", 6)
	f.registry.Join("post-only", 7)
	f.registry.Join("elsewhere", 8)
	f.registry.JoinRoom("feed-only", presence.FeedRoom)
	f.registry.JoinRoom("both", presence.FeedRoom)
	f.registry.JoinRoom("both", presence.PostRoom(postID))
	f.registry.JoinRoom("post-only", presence.PostRoom(postID))

	out := f.d.Dispatch(context.Background(), models.Event{
		ID: "evt-count", Kind: models.KindPostLikesUpdated, ActorID: 1, SubjectRef: postID, PostID: postID,
		Data: map[string]any{"likes_count": 4}, OccurredAt: at,
	})

	assert.Equal(t, []State{StateReceived, StateFannedOut, StateDone}, out.States)
	assert.Equal(t, 3, out.Delivered)
	for _, conn := range []string{"feed-only", "both", "post-only"} {
		envs := f.pusher.envelopes(t, conn)
		require.Len(t, envs, 1, conn)
		data := envs[0]["data"].(map[string]any)
		assert.Equal(t, float64(4), data["likes_count"])
		assert.Equal(t, postID, data["post_id"])
	}
	assert.Empty(t, f.pusher.envelopes(t, "elsewhere"))

	count, err := f.store.CountUnread(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count, "broadcasts leave no records")
}

func TestDispatch_PostCreatedGoesToFeedRoomOnly(t *testing.T) {
	assert.Equal(t, []string{presence.FeedRoom},
		Rooms(models.Event{Kind: models.KindPostCreated, PostID: postID}))
	assert.Equal(t, []string{presence.FeedRoom, presence.PostRoom(postID)},
		Rooms(models.Event{Kind: models.KindPostDeleted, PostID: postID}))
}

func TestDispatch_FailedAndSlowConnectionsAreIsolated(t *testing.T) {
	f := newFixture(Config{PushTimeout: 50 * time.Millisecond})
	for i := 0; i < 4; i++ {
		f.registry.Join(fmt.Sprintf("c%d", i), 2)
	}
	block := make(chan struct{})
	defer close(block)
	f.pusher.behave = func(ctx context.Context, connID string) error {
		switch connID {
		case "c1":
			return errors.New("broken pipe")
		case "c2":
			<-block // ignores ctx entirely
		}
		return nil
	}

	start := time.Now()
	out := f.d.Dispatch(context.Background(), like(1, 2))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDone, out.Final())
	assert.Equal(t, 4, out.Targets)
	assert.Equal(t, 2, out.Delivered)
	assert.Equal(t, 2, out.Failed)
	assert.NoError(t, out.Warning, "unreachable connections never surface")
	assert.Len(t, f.pusher.envelopes(t, "c0"), 1)
	assert.Len(t, f.pusher.envelopes(t, "c3"), 1)
}

func TestDispatch_PersistenceFailureStillPushes(t *testing.T) {
	down := fmt.Errorf("create notification: %w: %w", models.ErrPersistenceUnavailable, errors.New("dial tcp: refused"))
	store := &mockStore{
		createFn: func(ctx context.Context, n *models.Notification) error { return down },
		countFn:  func(ctx context.Context, recipientID uint) (int64, error) { return 0, down },
	}
	registry := presence.NewRegistry()
	registry.Join("bob", 2)
	pusher := newFakePusher()
	d := New(store, registry, pusher, directory{1: "Alice"}, Config{})

	err := d.Handle(context.Background(), like(1, 2))

	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	envs := pusher.envelopes(t, "bob")
	require.Len(t, envs, 1)
	data := envs[0]["data"].(map[string]any)
	assert.NotContains(t, data, "unread_count")
	assert.Equal(t, "Alice liked your post", data["notification"].(map[string]any)["message"])
}

func TestDispatch_StoreDetectedSelfNotification(t *testing.T) {
	store := &mockStore{
		createFn: func(ctx context.Context, n *models.Notification) error { return models.ErrSelfNotification },
	}
	d := New(store, presence.NewRegistry(), newFakePusher(), nil, Config{})

	out := d.Dispatch(context.Background(), like(1, 2))

	assert.Equal(t, []State{StateReceived, StateSkippedSelf, StateDone}, out.States)
	assert.NoError(t, out.Warning)
}

func TestRenderer(t *testing.T) {
	r := NewRenderer()

	t.Run("comment excerpt is plain and short", func(t *testing.T) {
		long := "<b>great</b> <script>alert(1)</script>post "
		for i := 0; i < 30; i++ {
			long += "word "
		}
		msg := r.Message(models.Event{Kind: models.KindComment, Data: map[string]any{"content": long}}, "Bob")

		assert.Contains(t, msg, `Bob commented on your post: "great post word`)
		assert.NotContains(t, msg, "<")
		assert.NotContains(t, msg, "alert")
		assert.Contains(t, msg, `..."`)
	})

	t.Run("explicit message wins", func(t *testing.T) {
		msg := r.Message(models.Event{Kind: models.KindFollow, Message: "Bob & Carol say hi"}, "Bob")
		assert.Equal(t, "Bob & Carol say hi", msg)
	})

	t.Run("unknown actor", func(t *testing.T) {
		assert.Equal(t, "Someone started following you", r.Message(models.Event{Kind: models.KindFollow}, ""))
	})
}
