package helppost

import (
	"context"
	"database/sql"

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

const selectPost = `
	SELECT hp.id, hp.title, hp.description, hp.category, hp.location, hp.needed_by,
	       hp.author_id, u.username, hp.status, hp.created_at, hp.updated_at
	FROM help_posts hp
	JOIN users u ON u.id = hp.author_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (domain.HelpPost, error) {
	var p domain.HelpPost
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Location, &p.NeededBy,
		&p.Author.ID, &p.Author.Username, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Create(ctx context.Context, p *domain.HelpPost) error {
	query := `
		INSERT INTO help_posts (title, description, category, location, needed_by, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		p.Title, p.Description, p.Category, p.Location, p.NeededBy, p.Author.ID,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return apperr.FromStore("create help post", err)
}

// Get loads a post with its author and every helper offer.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.HelpPost, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx, selectPost+` WHERE hp.id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore("get help post", err)
	}
	helpers, err := r.helpers(ctx, []int64{p.ID})
	if err != nil {
		return nil, err
	}
	p.Helpers = helpers[p.ID]
	if p.Helpers == nil {
		p.Helpers = []domain.Helper{}
	}
	return &p, nil
}

// List returns one page of posts, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, f Filter) ([]domain.HelpPost, int, error) {
	where := ` WHERE ($1::text = '' OR hp.category = $1::text) AND ($2::text = '' OR hp.status = $2::text)`

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM help_posts hp`+where, f.Category, string(f.Status)).Scan(&total)
	if err != nil {
		return nil, 0, apperr.FromStore("count help posts", err)
	}

	query := selectPost + where + ` ORDER BY hp.created_at DESC, hp.id DESC LIMIT $3 OFFSET $4`
	posts, err := r.query(ctx, query, f.Category, string(f.Status), f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

func (r *Repository) ListByAuthor(ctx context.Context, authorID int64) ([]domain.HelpPost, error) {
	return r.query(ctx, selectPost+` WHERE hp.author_id = $1 ORDER BY hp.created_at DESC, hp.id DESC`, authorID)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.HelpPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromStore("list help posts", err)
	}
	defer rows.Close()

	posts := []domain.HelpPost{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, apperr.FromStore("scan help post", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStore("list help posts", err)
	}

	ids := lo.Map(posts, func(p domain.HelpPost, _ int) int64 { return p.ID })
	helpers, err := r.helpers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Helpers = helpers[posts[i].ID]
		if posts[i].Helpers == nil {
			posts[i].Helpers = []domain.Helper{}
		}
	}
	return posts, nil
}

// helpers loads the offers for a batch of posts keyed by post id.
func (r *Repository) helpers(ctx context.Context, postIDs []int64) (map[int64][]domain.Helper, error) {
	out := map[int64][]domain.Helper{}
	if len(postIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT h.id, h.post_id, h.user_id, u.username, h.message, h.status, h.offered_at
		FROM helpers h
		JOIN users u ON u.id = h.user_id
		WHERE h.post_id = ANY($1)
		ORDER BY h.offered_at, h.id`
	rows, err := r.db.QueryContext(ctx, query, postIDs)
	if err != nil {
		return nil, apperr.FromStore("list helpers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h domain.Helper
		if err := rows.Scan(&h.ID, &h.PostID, &h.User.ID, &h.User.Username, &h.Message, &h.Status, &h.OfferedAt); err != nil {
			return nil, apperr.FromStore("scan helper", err)
		}
		out[h.PostID] = append(out[h.PostID], h)
	}
	return out, apperr.FromStore("list helpers", rows.Err())
}

func (r *Repository) Update(ctx context.Context, p *domain.HelpPost) error {
	query := `
		UPDATE help_posts
		SET title = $2, description = $3, category = $4, location = $5, needed_by = $6, updated_at = now()
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, p.ID, p.Title, p.Description, p.Category, p.Location, p.NeededBy)
	return affectedOne("update help post", res, err)
}

func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.PostStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE help_posts SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return affectedOne("update help post status", res, err)
}

// Delete removes the post. Helpers and conversations go with it by cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM help_posts WHERE id = $1`, id)
	return affectedOne("delete help post", res, err)
}

// AddHelper records an offer. A second offer from the same user fails with
// apperr.ErrConflict.
func (r *Repository) AddHelper(ctx context.Context, postID, userID int64, message string) (*domain.Helper, error) {
	query := `
		WITH ins AS (
			INSERT INTO helpers (post_id, user_id, message) VALUES ($1, $2, $3)
			RETURNING id, post_id, user_id, message, status, offered_at
		)
		SELECT ins.id, ins.post_id, ins.user_id, u.username, ins.message, ins.status, ins.offered_at
		FROM ins JOIN users u ON u.id = ins.user_id`
	var h domain.Helper
	err := r.db.QueryRowContext(ctx, query, postID, userID, message).Scan(
		&h.ID, &h.PostID, &h.User.ID, &h.User.Username, &h.Message, &h.Status, &h.OfferedAt)
	if err != nil {
		return nil, apperr.FromStore("add helper", err)
	}
	return &h, nil
}

// SetHelperStatus changes one offer's status. Accepting also moves the post to
// in-progress unless it is already completed, in the same transaction.
func (r *Repository) SetHelperStatus(ctx context.Context, postID, helperID int64, status domain.HelperStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.FromStore("begin helper status", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE helpers SET status = $3 WHERE id = $2 AND post_id = $1`, postID, helperID, string(status))
	if err := affectedOne("set helper status", res, err); err != nil {
		return err
	}
	if status == domain.HelperAccepted {
		_, err := tx.ExecContext(ctx, `
			UPDATE help_posts SET status = 'in-progress', updated_at = now()
			WHERE id = $1 AND status <> 'completed'`, postID)
		if err != nil {
			return apperr.FromStore("start help post", err)
		}
	}
	return apperr.FromStore("commit helper status", tx.Commit())
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return apperr.FromStore(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if n == 0 {
		return apperr.FromStore(op, apperr.ErrNotFound)
	}
	return nil
}
