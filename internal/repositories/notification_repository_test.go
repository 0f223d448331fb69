package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestPostgresNotifications_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "notifications"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	n := newNotification(1, 2, t0)
	require.NoError(t, repo.CreateNotification(context.Background(), n))
	assert.Equal(t, uint(42), n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifications_SelfNotificationNeverReachesTheDatabase(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)

	err := repo.CreateNotification(context.Background(), newNotification(5, 5, t0))
	assert.ErrorIs(t, err, models.ErrSelfNotification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifications_CreateFailureIsPersistenceUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)
	down := errors.New("connection refused")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "notifications"`).WillReturnError(down)
	mock.ExpectRollback()

	err := repo.CreateNotification(context.Background(), newNotification(1, 2, t0))
	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, down)
}

func TestPostgresNotifications_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "recipient_id", "actor_id", "kind", "subject_ref", "message", "is_read", "created_at"}).
		AddRow(12, 2, 1, "LIKE", "p1", "a liked your post", false, t0).
		AddRow(11, 2, 3, "FOLLOW", "3", "c started following you", false, t0)
	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE recipient_id = \$1 AND is_read = \$2 AND \(created_at, id\) < \(\$3, \$4\) ORDER BY created_at DESC,id DESC`).
		WillReturnRows(rows)

	before := &Cursor{CreatedAt: t0.Add(time.Minute), ID: 20}
	list, err := repo.ListForRecipient(context.Background(), 2, ListOptions{Limit: 10, Before: before, UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []uint{12, 11}, ids(list))
	assert.Equal(t, models.KindFollow, list[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifications_CountUnread(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "notifications" WHERE recipient_id = \$1 AND is_read = \$2`).
		WithArgs(2, false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountUnread(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifications_MarkAllReadIsOneStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "notifications" SET "is_read"=\$1 WHERE recipient_id = \$2 AND is_read = \$3`).
		WithArgs(true, 2, false).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	updated, err := repo.MarkAllRead(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
