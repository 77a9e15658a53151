package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// Repository is the Postgres notification store. It does no ownership checks;
// Service does.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `id, recipient_id, sender_id, type, title, message,
	entity_type, entity_id, read, read_at, metadata, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*domain.Notification, error) {
	var (
		n          domain.Notification
		senderID   sql.NullInt64
		entityType sql.NullString
		entityID   sql.NullInt64
		readAt     sql.NullTime
		metadata   []byte
	)
	err := row.Scan(&n.ID, &n.RecipientID, &senderID, &n.Type, &n.Title, &n.Message,
		&entityType, &entityID, &n.Read, &readAt, &metadata, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if senderID.Valid {
		n.SenderID = &senderID.Int64
	}
	if entityType.Valid && entityID.Valid {
		n.Related = &domain.RelatedEntity{Kind: domain.EntityKind(entityType.String), ID: entityID.Int64}
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	n.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return apperr.FromStore("encode metadata", err)
	}

	var entityType sql.NullString
	var entityID sql.NullInt64
	if n.Related != nil {
		entityType = sql.NullString{String: string(n.Related.Kind), Valid: true}
		entityID = sql.NullInt64{Int64: n.Related.ID, Valid: true}
	}

	query := `
		INSERT INTO notifications (recipient_id, sender_id, type, title, message, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, n.RecipientID, n.SenderID, n.Type, n.Title, n.Message,
		entityType, entityID, metadata).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return apperr.FromStore("create notification", err)
	}
	n.Metadata = meta
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		return nil, apperr.FromStore("get notification", err)
	}
	return n, nil
}

// ListForRecipient returns one page, newest first. An empty typ means all types.
func (r *Repository) ListForRecipient(ctx context.Context, userID int64, page, pageSize int, typ domain.NotificationType) (*Page, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND ($2::text = '' OR type = $2::text)`
	if err := r.db.QueryRowContext(ctx, countQuery, userID, string(typ)).Scan(&total); err != nil {
		return nil, apperr.FromStore("count notifications", err)
	}

	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND ($2::text = '' OR type = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, userID, string(typ), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperr.FromStore("list notifications", err)
	}
	defer rows.Close()

	var items []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, apperr.FromStore("scan notification", err)
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStore("list notifications", err)
	}
	return newPage(items, total, page, pageSize), nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = false`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, apperr.FromStore("count unread", err)
	}
	return count, nil
}

// MarkOneRead keeps the first read_at if the notification was already read.
func (r *Repository) MarkOneRead(ctx context.Context, id int64) error {
	query := `UPDATE notifications SET read = true, read_at = COALESCE(read_at, now()) WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperr.FromStore("mark read", err)
	}
	return affectedOne("mark read", res)
}

func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	query := `UPDATE notifications SET read = true, read_at = now() WHERE recipient_id = $1 AND read = false`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, apperr.FromStore("mark all read", err)
	}
	n, err := res.RowsAffected()
	return n, apperr.FromStore("mark all read", err)
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return apperr.FromStore("delete notification", err)
	}
	return affectedOne("delete notification", res)
}

func (r *Repository) DeleteAllForRecipient(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, userID)
	if err != nil {
		return 0, apperr.FromStore("delete notifications", err)
	}
	n, err := res.RowsAffected()
	return n, apperr.FromStore("delete notifications", err)
}

func (r *Repository) Stats(ctx context.Context, userID int64) (*Stats, error) {
	query := `
		SELECT type, COUNT(*), COUNT(*) FILTER (WHERE read = false)
		FROM notifications
		WHERE recipient_id = $1
		GROUP BY type`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.FromStore("notification stats", err)
	}
	defer rows.Close()

	stats := &Stats{ByType: map[domain.NotificationType]int{}}
	for rows.Next() {
		var (
			typ           domain.NotificationType
			total, unread int
		)
		if err := rows.Scan(&typ, &total, &unread); err != nil {
			return nil, apperr.FromStore("scan stats", err)
		}
		stats.ByType[typ] = total
		stats.Total += total
		stats.Unread += unread
	}
	return stats, apperr.FromStore("notification stats", rows.Err())
}

// PurgeOlderThan deletes every notification created before cutoff.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.FromStore("purge notifications", err)
	}
	n, err := res.RowsAffected()
	return n, apperr.FromStore("purge notifications", err)
}

func affectedOne(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if n == 0 {
		return apperr.FromStore(op, sql.ErrNoRows)
	}
	return nil
}
