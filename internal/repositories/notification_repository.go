package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"gorm.io/gorm"
)

const (
	// DefaultListLimit bounds a notification page when the caller asks for nothing or too much
	DefaultListLimit = 50
	MaxListLimit     = 50
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (created_at, id) position of the last record of a page.
// It follows the list order, so records inserted out of created_at order are not skipped.
type Cursor struct {
	CreatedAt time.Time
	ID        uint
}

// CursorOf returns the cursor that continues after n
func CursorOf(n models.Notification) *Cursor {
	return &Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// String encodes the cursor as "<unix nanos>.<id>"
func (c Cursor) String() string {
	return strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + strconv.FormatUint(uint64(c.ID), 10)
}

// ParseCursor decodes what String produced
func ParseCursor(s string) (*Cursor, error) {
	nanos, id, ok := strings.Cut(s, ".")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, ts).UTC(), ID: uint(n)}, nil
}

// after reports whether n sorts after the cursor in newest-first order
func (c *Cursor) after(n *models.Notification) bool {
	if n.CreatedAt.Equal(c.CreatedAt) {
		return n.ID < c.ID
	}
	return n.CreatedAt.Before(c.CreatedAt)
}

// ListOptions selects a page of a recipient's notifications
type ListOptions struct {
	Limit      int
	Before     *Cursor // nil starts from the newest record
	UnreadOnly bool
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		return DefaultListLimit
	}
	return o.Limit
}

// NotificationRepository is the durable notification store
type NotificationRepository interface {
	// CreateNotification persists n and fills its ID and CreatedAt.
	// It returns models.ErrSelfNotification, writing nothing, when actor and recipient are the same.
	CreateNotification(ctx context.Context, n *models.Notification) error
	// ListForRecipient returns a newest-first page; ties on created_at put the later insert first.
	ListForRecipient(ctx context.Context, recipientID uint, opts ListOptions) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	// MarkAllRead marks every unread record of recipientID read and returns how many changed
	MarkAllRead(ctx context.Context, recipientID uint) (int64, error)
}

var _ NotificationRepository = (*postgresNotificationRepository)(nil)

type postgresNotificationRepository struct {
	db *gorm.DB
}

func NewPostgresNotificationRepository(db *gorm.DB) NotificationRepository {
	return &postgresNotificationRepository{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceUnavailable, err)
}

func (r *postgresNotificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ActorID == n.RecipientID {
		return models.ErrSelfNotification
	}
	n.IsRead = false
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return unavailable("create notification", err)
	}
	return nil
}

func (r *postgresNotificationRepository) ListForRecipient(ctx context.Context, recipientID uint, opts ListOptions) ([]models.Notification, error) {
	q := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if opts.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if opts.Before != nil {
		q = q.Where("(created_at, id) < (?, ?)", opts.Before.CreatedAt, opts.Before.ID)
	}

	notifications := make([]models.Notification, 0)
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(opts.limit()).
		Find(&notifications).Error
	if err != nil {
		return nil, unavailable("list notifications", err)
	}
	return notifications, nil
}

func (r *postgresNotificationRepository) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, unavailable("count unread", err)
	}
	return count, nil
}

// MarkAllRead is one UPDATE statement: a notification inserted concurrently is either
// marked with the batch or stays unread and is still counted afterwards.
func (r *postgresNotificationRepository) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, unavailable("mark all read", res.Error)
	}
	return res.RowsAffected, nil
}
