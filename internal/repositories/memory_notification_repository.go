package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
)

var _ NotificationRepository = (*MemoryNotificationRepository)(nil)

// MemoryNotificationRepository keeps notifications in process memory.
// It backs single-process development setups and tests; every operation runs under one lock,
// so counting and bulk marking are atomic with respect to inserts.
type MemoryNotificationRepository struct {
	mu      sync.RWMutex
	nextID  uint
	records map[uint][]*models.Notification // per recipient, insertion order
	now     func() time.Time
}

func NewMemoryNotificationRepository(now func() time.Time) *MemoryNotificationRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryNotificationRepository{
		records: make(map[uint][]*models.Notification),
		now:     now,
	}
}

func (r *MemoryNotificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ActorID == n.RecipientID {
		return models.ErrSelfNotification
	}
	if err := ctx.Err(); err != nil {
		return unavailable("create notification", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	n.ID = r.nextID
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	stored := *n
	r.records[n.RecipientID] = append(r.records[n.RecipientID], &stored)
	return nil
}

func (r *MemoryNotificationRepository) ListForRecipient(ctx context.Context, recipientID uint, opts ListOptions) ([]models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list notifications", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Notification, 0)
	for _, n := range r.records[recipientID] {
		if opts.UnreadOnly && n.IsRead {
			continue
		}
		if opts.Before != nil && !opts.Before.after(n) {
			continue
		}
		out = append(out, *n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryNotificationRepository) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("count unread", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, n := range r.records[recipientID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *MemoryNotificationRepository) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("mark all read", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, n := range r.records[recipientID] {
		if !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}
