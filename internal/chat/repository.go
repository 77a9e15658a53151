package chat

import (
	"context"
	"database/sql"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// canonical returns the participant set deduplicated and sorted ascending.
func canonical(ids []int64) []int64 {
	out := lo.Uniq(ids)
	slices.Sort(out)
	return out
}

// participantKey renders a canonical participant set as "1,5,9".
func participantKey(ids []int64) string {
	parts := lo.Map(canonical(ids), func(id int64, _ int) string { return strconv.FormatInt(id, 10) })
	return strings.Join(parts, ",")
}

func (r *Repository) FindByPostAndParticipants(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error) {
	var id int64
	query := `SELECT id FROM conversations WHERE help_post_id = $1 AND participant_key = $2`
	if err := r.db.QueryRowContext(ctx, query, helpPostID, participantKey(participantIDs)).Scan(&id); err != nil {
		return nil, apperr.FromStore("find conversation", err)
	}
	return r.GetConversation(ctx, id)
}

// CreateConversation inserts the conversation and its participant rows in one
// transaction. A concurrent create for the same post and participants fails
// with apperr.ErrConflict.
func (r *Repository) CreateConversation(ctx context.Context, helpPostID int64, participantIDs []int64) (*domain.Conversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.FromStore("begin create conversation", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (help_post_id, participant_key) VALUES ($1, $2) RETURNING id`,
		helpPostID, participantKey(participantIDs)).Scan(&id)
	if err != nil {
		return nil, apperr.FromStore("create conversation", err)
	}

	for _, uid := range canonical(participantIDs) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`, id, uid); err != nil {
			return nil, apperr.FromStore("add participant", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.FromStore("commit conversation", err)
	}
	return r.GetConversation(ctx, id)
}

// GetConversation loads a conversation with its participants, post title and
// last message.
func (r *Repository) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `
		SELECT c.id, c.help_post_id, hp.title, c.last_message_id, c.last_activity, c.created_at
		FROM conversations c
		JOIN help_posts hp ON hp.id = c.help_post_id
		WHERE c.id = $1`
	conv := &domain.Conversation{}
	var lastID sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.HelpPostID, &conv.HelpPostTitle, &lastID, &conv.LastActivity, &conv.CreatedAt)
	if err != nil {
		return nil, apperr.FromStore("get conversation", err)
	}
	convs := []domain.Conversation{*conv}
	if err := r.attachDetails(ctx, convs, []sql.NullInt64{lastID}); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// attachDetails fills participants and last messages for convs with one query
// each, however many conversations there are. lastIDs is parallel to convs.
func (r *Repository) attachDetails(ctx context.Context, convs []domain.Conversation, lastIDs []sql.NullInt64) error {
	if len(convs) == 0 {
		return nil
	}
	parts, err := r.participants(ctx, lo.Map(convs, func(c domain.Conversation, _ int) int64 { return c.ID }))
	if err != nil {
		return err
	}
	valid := lo.Filter(lastIDs, func(id sql.NullInt64, _ int) bool { return id.Valid })
	last, err := r.messagesByID(ctx, lo.Map(valid, func(id sql.NullInt64, _ int) int64 { return id.Int64 }))
	if err != nil {
		return err
	}

	for i := range convs {
		convs[i].Participants = parts[convs[i].ID]
		if convs[i].Participants == nil {
			convs[i].Participants = []domain.UserRef{}
		}
		if lastIDs[i].Valid {
			id := lastIDs[i].Int64
			convs[i].LastMessageID = &id
			convs[i].LastMessage = last[id]
		}
	}
	return nil
}

// participants returns the participants of each conversation, keyed by
// conversation id and ordered by user id.
func (r *Repository) participants(ctx context.Context, conversationIDs []int64) (map[int64][]domain.UserRef, error) {
	query := `
		SELECT p.conversation_id, u.id, u.username
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1)
		ORDER BY p.conversation_id, u.id`
	rows, err := r.db.QueryContext(ctx, query, conversationIDs)
	if err != nil {
		return nil, apperr.FromStore("list participants", err)
	}
	defer rows.Close()

	out := map[int64][]domain.UserRef{}
	for rows.Next() {
		var convID int64
		var u domain.UserRef
		if err := rows.Scan(&convID, &u.ID, &u.Username); err != nil {
			return nil, apperr.FromStore("scan participant", err)
		}
		out[convID] = append(out[convID], u)
	}
	return out, apperr.FromStore("list participants", rows.Err())
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, apperr.FromStore("check participant", err)
	}
	return ok, nil
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.read, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.Content, &m.Read, &m.CreatedAt)
	return m, err
}

// messagesByID loads the given messages keyed by id. Missing ids are absent.
func (r *Repository) messagesByID(ctx context.Context, ids []int64) (map[int64]*domain.Message, error) {
	out := map[int64]*domain.Message{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, messageSelect+` WHERE m.id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.FromStore("load messages", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.FromStore("scan message", err)
		}
		out[m.ID] = m
	}
	return out, apperr.FromStore("load messages", rows.Err())
}

// AppendMessage stores a message and bumps the conversation's last message
// and activity in the same transaction.
func (r *Repository) AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.FromStore("begin append", err)
	}
	defer tx.Rollback()

	m := &domain.Message{ConversationID: conversationID, SenderID: senderID, Content: content}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3) RETURNING id, read, created_at`,
		conversationID, senderID, content).Scan(&m.ID, &m.Read, &m.CreatedAt)
	if err != nil {
		return nil, apperr.FromStore("append message", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = $1, last_activity = $2 WHERE id = $3`,
		m.ID, m.CreatedAt, conversationID)
	if err != nil {
		return nil, apperr.FromStore("touch conversation", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1`, senderID).Scan(&m.SenderUsername); err != nil {
		return nil, apperr.FromStore("load sender", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.FromStore("commit append", err)
	}
	return m, nil
}

// ListMessages returns the whole conversation in creation order.
func (r *Repository) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		messageSelect+` WHERE m.conversation_id = $1 ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, apperr.FromStore("list messages", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.FromStore("scan message", err)
		}
		out = append(out, *m)
	}
	return out, apperr.FromStore("list messages", rows.Err())
}

// MarkRead flags every unread message not sent by readerID and returns how
// many changed.
func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read = true WHERE conversation_id = $1 AND sender_id <> $2 AND read = false`,
		conversationID, readerID)
	if err != nil {
		return 0, apperr.FromStore("mark messages read", err)
	}
	n, err := res.RowsAffected()
	return n, apperr.FromStore("mark messages read", err)
}

// GetUserConversations lists the user's conversations, most recently active
// first, each with the user's unread count.
func (r *Repository) GetUserConversations(ctx context.Context, userID int64) ([]domain.Conversation, error) {
	query := `
		SELECT c.id, c.help_post_id, hp.title, c.last_message_id, c.last_activity, c.created_at,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read = false) AS unread
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
		JOIN help_posts hp ON hp.id = c.help_post_id
		ORDER BY c.last_activity DESC, c.id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.FromStore("list conversations", err)
	}

	convs := []domain.Conversation{}
	var lastIDs []sql.NullInt64
	for rows.Next() {
		var conv domain.Conversation
		var lastID sql.NullInt64
		if err := rows.Scan(&conv.ID, &conv.HelpPostID, &conv.HelpPostTitle, &lastID,
			&conv.LastActivity, &conv.CreatedAt, &conv.UnreadCount); err != nil {
			rows.Close()
			return nil, apperr.FromStore("scan conversation", err)
		}
		convs = append(convs, conv)
		lastIDs = append(lastIDs, lastID)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperr.FromStore("list conversations", err)
	}

	if err := r.attachDetails(ctx, convs, lastIDs); err != nil {
		return nil, err
	}
	return convs, nil
}
