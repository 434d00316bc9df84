package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	_ ArticleRepository      = (*ArticleRepo)(nil)
	_ ArticleStateRepository = (*ArticleRepo)(nil)
)

const articleColumns = `id, feed_id, guid, title, COALESCE(url, ''), COALESCE(author, ''), COALESCE(content, ''),
	COALESCE(summary, ''), COALESCE(image_url, ''), published_at, COALESCE(video_id, ''),
	COALESCE(enclosure_url, ''), COALESCE(enclosure_type, ''), COALESCE(enclosure_length, 0),
	COALESCE(duration, ''), COALESCE(extracted_content, ''), extracted_at, deleted_at, created_at`

type ArticleRepo struct {
	db *DB
}

func NewArticleRepository(db *DB) *ArticleRepo {
	return &ArticleRepo{db: db}
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var publishedAt, extractedAt, deletedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&a.ID, &a.FeedID, &a.GUID, &a.Title, &a.URL, &a.Author, &a.Content, &a.Summary,
		&a.ImageURL, &publishedAt, &a.VideoID, &a.EnclosureURL, &a.EnclosureType, &a.EnclosureLength,
		&a.Duration, &a.ExtractedContent, &extractedAt, &deletedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	a.PublishedAt = timePtr(publishedAt)
	a.ExtractedAt = timePtr(extractedAt)
	a.DeletedAt = timePtr(deletedAt)
	a.CreatedAt = fromMillis(createdAt)

	return &a, nil
}

// InsertArticle stores the article unless (feed_id, guid) already exists.
// It reports whether a row was inserted and sets article.ID when it was.
func (r *ArticleRepo) InsertArticle(ctx context.Context, a *Article) (bool, error) {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var enclosureLength sql.NullInt64
	if a.EnclosureLength > 0 {
		enclosureLength = sql.NullInt64{Int64: a.EnclosureLength, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO articles (feed_id, guid, title, url, author, content, summary, image_url, published_at,
			video_id, enclosure_url, enclosure_type, enclosure_length, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id, guid) DO NOTHING
	`, a.FeedID, a.GUID, a.Title, nullString(a.URL), nullString(a.Author), nullString(a.Content),
		nullString(a.Summary), nullString(a.ImageURL), nullMillis(a.PublishedAt), nullString(a.VideoID),
		nullString(a.EnclosureURL), nullString(a.EnclosureType), enclosureLength, nullString(a.Duration),
		toMillis(createdAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert article %q: %w", a.GUID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return true, fmt.Errorf("failed to read article id: %w", err)
	}
	a.ID = id
	a.CreatedAt = fromMillis(toMillis(createdAt))

	return true, nil
}

func (r *ArticleRepo) GetArticle(ctx context.Context, id int64) (*Article, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)

	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article %d: %w", id, err)
	}

	return a, nil
}

func (r *ArticleRepo) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, *a)
	}

	return articles, rows.Err()
}

func (r *ArticleRepo) ListArticles(ctx context.Context, q ArticleQuery) ([]Article, error) {
	limit := cmp.Or(q.Limit, 50)

	var articles []Article
	var err error
	if q.FeedID > 0 {
		articles, err = r.queryArticles(ctx, `
			SELECT `+articleColumns+` FROM articles
			WHERE feed_id = ? AND deleted_at IS NULL
			ORDER BY COALESCE(published_at, created_at) DESC, id DESC
			LIMIT ?
		`, q.FeedID, limit)
	} else {
		articles, err = r.queryArticles(ctx, `
			SELECT `+articleColumns+` FROM articles
			WHERE deleted_at IS NULL
			ORDER BY COALESCE(published_at, created_at) DESC, id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	return articles, nil
}

// RecentArticles returns the most recently stored articles, newest first.
func (r *ArticleRepo) RecentArticles(ctx context.Context, limit int) ([]Article, error) {
	articles, err := r.queryArticles(ctx, `
		SELECT `+articleColumns+` FROM articles
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, cmp.Or(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent articles: %w", err)
	}
	return articles, nil
}

func (r *ArticleRepo) SetExtractedContent(ctx context.Context, id int64, content string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE articles SET extracted_content = ?, extracted_at = ? WHERE id = ?`, content, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to store extracted content for article %d: %w", id, err)
	}
	return requireAffected(res)
}

func (r *ArticleRepo) MoveToFolder(ctx context.Context, userID, articleID, folderID int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_folders (user_id, article_id, folder_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, article_id) DO UPDATE SET folder_id = excluded.folder_id
	`, userID, articleID, folderID, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to move article %d to folder %d: %w", articleID, folderID, err)
	}
	return nil
}

// AddTag is idempotent: tagging an article twice leaves one row.
func (r *ArticleRepo) AddTag(ctx context.Context, userID, articleID int64, tag string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_tags (user_id, article_id, tag, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, articleID, tag, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to tag article %d: %w", articleID, err)
	}
	return nil
}

func (r *ArticleRepo) Tags(ctx context.Context, userID, articleID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag FROM article_tags WHERE user_id = ? AND article_id = ? ORDER BY tag`, userID, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags for article %d: %w", articleID, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

func (r *ArticleRepo) MarkRead(ctx context.Context, userID, articleID int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO read_state (user_id, article_id, is_read, read_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id, article_id) DO UPDATE SET is_read = 1, read_at = COALESCE(read_at, excluded.read_at)
	`, userID, articleID, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to mark article %d read: %w", articleID, err)
	}
	return nil
}

func (r *ArticleRepo) Bookmark(ctx context.Context, userID, articleID int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO read_state (user_id, article_id, is_bookmarked, bookmarked_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id, article_id) DO UPDATE SET is_bookmarked = 1,
			bookmarked_at = COALESCE(bookmarked_at, excluded.bookmarked_at)
	`, userID, articleID, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to bookmark article %d: %w", articleID, err)
	}
	return nil
}

func (r *ArticleRepo) SoftDeleteArticle(ctx context.Context, articleID int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE articles SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?`, toMillis(now), articleID)
	if err != nil {
		return fmt.Errorf("failed to delete article %d: %w", articleID, err)
	}
	return requireAffected(res)
}
