package chat

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/db"
)

// pgFixture connects to TEST_DB_DSN and seeds two users and a help post.
// Tests using it are skipped when the variable is unset.
func pgFixture(t *testing.T) (*sql.DB, int64, []int64) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	database, err := db.NewDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate(ctx))

	conn := database.Conn
	suffix := time.Now().Format("150405.000000")
	var users []int64
	for _, name := range []string{"a" + suffix, "b" + suffix} {
		var id int64
		require.NoError(t, conn.QueryRowContext(ctx,
			`INSERT INTO users (username, password) VALUES ($1, 'x') RETURNING id`, name).Scan(&id))
		users = append(users, id)
	}
	var postID int64
	require.NoError(t, conn.QueryRowContext(ctx, `
		INSERT INTO help_posts (title, description, category, location, needed_by, author_id)
		VALUES ('Ride', 'Need a ride', 'Transport', 'Gate 2', now() + interval '1 day', $1)
		RETURNING id`, users[0]).Scan(&postID))
	t.Cleanup(func() {
		conn.ExecContext(ctx, `DELETE FROM users WHERE id = ANY($1)`, users)
	})
	return conn, postID, users
}

func TestRepository_ConcurrentFindOrCreate(t *testing.T) {
	conn, postID, users := pgFixture(t)
	svc := NewService(NewRepository(conn), &capturePublisher{}, &mockRooms{}, zap.NewNop())

	const callers = 16
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.FindOrCreateConversation(context.Background(), postID, users)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM conversations WHERE help_post_id = $1`, postID).Scan(&count))
	assert.Equal(t, 1, count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRepository_AppendListMarkRead(t *testing.T) {
	conn, postID, users := pgFixture(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, postID, users)
	require.NoError(t, err)
	assert.Equal(t, "Ride", conv.HelpPostTitle)
	assert.Len(t, conv.Participants, 2)

	for i := 0; i < 4; i++ {
		_, err := repo.AppendMessage(ctx, conv.ID, users[i%2], "m")
		require.NoError(t, err)
	}

	msgs, err := repo.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}

	reloaded, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastMessage)
	assert.Equal(t, msgs[3].ID, reloaded.LastMessage.ID)

	n, err := repo.MarkRead(ctx, conv.ID, users[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = repo.MarkRead(ctx, conv.ID, users[1])
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := repo.GetUserConversations(ctx, users[0])
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, 2, list[0].UnreadCount)
}

func TestRepository_UserConversationsCarryDetails(t *testing.T) {
	conn, postID, users := pgFixture(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	var otherPost int64
	require.NoError(t, conn.QueryRowContext(ctx, `
		INSERT INTO help_posts (title, description, category, location, needed_by, author_id)
		VALUES ('Boxes', 'Help me move', 'Other', 'Dorm C', now() + interval '1 day', $1)
		RETURNING id`, users[1]).Scan(&otherPost))

	first, err := repo.CreateConversation(ctx, postID, users)
	require.NoError(t, err)
	second, err := repo.CreateConversation(ctx, otherPost, users)
	require.NoError(t, err)

	older, err := repo.AppendMessage(ctx, first.ID, users[0], "first thread")
	require.NoError(t, err)
	newer, err := repo.AppendMessage(ctx, second.ID, users[1], "second thread")
	require.NoError(t, err)

	list, err := repo.GetUserConversations(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	want := map[int64]int64{first.ID: older.ID, second.ID: newer.ID}
	for _, conv := range list {
		assert.Len(t, conv.Participants, 2)
		require.NotNil(t, conv.LastMessage)
		assert.Equal(t, want[conv.ID], conv.LastMessage.ID)
	}
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Zero(t, list[1].UnreadCount)
}
