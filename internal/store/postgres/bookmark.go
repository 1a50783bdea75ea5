package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	database "github.com/MrSnakeDoc/shelf/internal/postgres"
)

const bookmarksTable = "bookmarks"

var (
	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	bookmarkColumns = []string{"id", "user_id", "url", "title", "created_at"}
)

// BookmarkRepository is the row store for bookmarks, always scoped to one owner.
type BookmarkRepository struct {
	q database.Querier
}

// NewBookmarkRepository creates a repository on top of a pool (or a tx, or a mock).
func NewBookmarkRepository(q database.Querier) *BookmarkRepository {
	return &BookmarkRepository{q: q}
}

// List returns every bookmark owned by ownerID, newest first.
func (r *BookmarkRepository) List(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.
		Select(bookmarkColumns...).
		From(bookmarksTable).
		Where(squirrel.Eq{"user_id": owner}).
		OrderBy("created_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, mapError("list", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list", err)
	}
	defer rows.Close()

	bookmarks := make([]domain.Bookmark, 0)
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, mapError("list", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list", err)
	}

	return bookmarks, nil
}

// Create inserts a validated draft. The database assigns id and created_at.
func (r *BookmarkRepository) Create(ctx context.Context, ownerID string, draft domain.Draft) (domain.Bookmark, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return domain.Bookmark{}, err
	}
	if draft.URL() == "" || draft.Title() == "" {
		return domain.Bookmark{}, domain.NewValidationError("draft", "draft is empty")
	}

	query, args, err := psql.
		Insert(bookmarksTable).
		Columns("user_id", "url", "title").
		Values(owner, draft.URL(), draft.Title()).
		Suffix("RETURNING id, user_id, url, title, created_at").
		ToSql()
	if err != nil {
		return domain.Bookmark{}, mapError("create", err)
	}

	b, err := scanBookmark(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Bookmark{}, mapError("create", err)
	}
	return b, nil
}

// Get returns the current row for bookmarkID, or nil when it no longer exists
// for ownerID. Malformed ids read as missing.
func (r *BookmarkRepository) Get(ctx context.Context, ownerID, bookmarkID string) (*domain.Bookmark, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(bookmarkID)
	if err != nil {
		return nil, nil
	}

	query, args, err := psql.
		Select(bookmarkColumns...).
		From(bookmarksTable).
		Where(squirrel.Eq{"id": id.String(), "user_id": owner}).
		ToSql()
	if err != nil {
		return nil, mapError("get", err)
	}

	b, err := scanBookmark(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get", err)
	}
	return &b, nil
}

// Delete removes the bookmark only when it belongs to ownerID.
// Unknown, foreign or malformed ids are a no-op.
func (r *BookmarkRepository) Delete(ctx context.Context, ownerID, bookmarkID string) error {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(bookmarkID)
	if err != nil {
		return nil
	}

	query, args, err := psql.
		Delete(bookmarksTable).
		Where(squirrel.Eq{"id": id.String(), "user_id": owner}).
		ToSql()
	if err != nil {
		return mapError("delete", err)
	}

	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapError("delete", err)
	}
	return nil
}

// Ping reports whether the row store answers.
func (r *BookmarkRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.q.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return mapError("ping", err)
	}
	return nil
}

func parseOwner(ownerID string) (string, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil || id == uuid.Nil {
		return "", domain.NewValidationError("owner_id", "owner id must be a uuid")
	}
	return id.String(), nil
}

func scanBookmark(row pgx.Row) (domain.Bookmark, error) {
	var b domain.Bookmark
	if err := row.Scan(&b.ID, &b.OwnerID, &b.URL, &b.Title, &b.CreatedAt); err != nil {
		return domain.Bookmark{}, err
	}
	return b, nil
}

// mapError converts pgx/pgconn errors to domain errors.
// Context errors stay reachable through errors.Is on the StoreError.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514": // check_violation
			return domain.NewValidationError(checkField(pgErr.ConstraintName), "value rejected by the row store")
		case "22P02": // invalid_text_representation
			return domain.NewValidationError("id", "malformed identifier")
		}
	}

	return &domain.StoreError{Op: op, Err: fmt.Errorf("%s bookmarks: %w", op, err)}
}

func checkField(constraint string) string {
	switch constraint {
	case "bookmarks_url_check":
		return "url"
	case "bookmarks_title_check":
		return "title"
	default:
		return "bookmark"
	}
}
