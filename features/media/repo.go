package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db    *sql.DB
	hooks []Hook
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// RegisterHook adds h to the hooks run on every segment mutation.
func (r *PostgresRepo) RegisterHook(h Hook) {
	r.hooks = append(r.hooks, h)
}

func (r *PostgresRepo) afterCommit(ctx context.Context, c Change) {
	for _, h := range r.hooks {
		h.AfterCommit(ctx, c)
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const mediaColumns = `id, title_english, title_romaji, title_japanese, category, created_at, updated_at`

func getMedia(ctx context.Context, q queryer, id int64) (*Media, error) {
	m := &Media{}
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`
	err := q.QueryRowContext(ctx, query, id).
		Scan(&m.ID, &m.TitleEnglish, &m.TitleRomaji, &m.TitleJapanese, &m.Category, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMediaNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepo) CreateMedia(ctx context.Context, m *Media) error {
	query := `INSERT INTO media (title_english, title_romaji, title_japanese, category) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, m.TitleEnglish, m.TitleRomaji, m.TitleJapanese, m.Category).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *PostgresRepo) GetMedia(ctx context.Context, id int64) (*Media, error) {
	return getMedia(ctx, r.db, id)
}

// DeleteMedia removes a media and its segments in one transaction. Each
// removed segment gets a fresh version so its tombstone outranks earlier writes.
func (r *PostgresRepo) DeleteMedia(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := getMedia(ctx, tx, id)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `DELETE FROM segments WHERE media_id = $1
		RETURNING id, uuid, episode, position, nextval('record_version_seq')`, id)
	if err != nil {
		return err
	}
	var removed []Segment
	for rows.Next() {
		s := Segment{MediaID: id}
		if err := rows.Scan(&s.ID, &s.UUID, &s.Episode, &s.Position, &s.Version); err != nil {
			rows.Close()
			return err
		}
		removed = append(removed, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = $1`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.afterCommit(ctx, Change{Op: ChangeMediaDelete, Media: m, Removed: removed})
	return nil
}

// ListMediaIDs pages media ids in ascending order starting after afterID.
func (r *PostgresRepo) ListMediaIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM media WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) InsertSegment(ctx context.Context, seg *Segment) error {
	for _, h := range r.hooks {
		h.BeforeInsert(seg)
	}
	if seg.UUID == "" {
		return fmt.Errorf("insert segment: no uuid for media %d episode %d position %d", seg.MediaID, seg.Episode, seg.Position)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := getMedia(ctx, tx, seg.MediaID)
	if err != nil {
		return err
	}

	query := `INSERT INTO segments (uuid, media_id, episode, position, start_time_ms, end_time_ms, content, content_english, char_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, version, updated_at`
	err = tx.QueryRowContext(ctx, query, seg.UUID, seg.MediaID, seg.Episode, seg.Position, seg.StartTimeMs, seg.EndTimeMs,
		seg.Content, seg.ContentEnglish, seg.CharCount).Scan(&seg.ID, &seg.Version, &seg.UpdatedAt)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.afterCommit(ctx, Change{Op: ChangeInsert, Segment: seg, Media: m})
	return nil
}

// UpdateSegment rewrites the mutable fields of the segment identified by
// seg.UUID. The natural key (media, episode, position) never changes.
func (r *PostgresRepo) UpdateSegment(ctx context.Context, seg *Segment) error {
	if seg.CharCount == 0 {
		seg.CharCount = utf8.RuneCountInString(seg.Content)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE segments
		SET start_time_ms = $2, end_time_ms = $3, content = $4, content_english = $5, char_count = $6,
			version = nextval('record_version_seq'), updated_at = NOW()
		WHERE uuid = $1
		RETURNING id, media_id, episode, position, version, updated_at`
	err = tx.QueryRowContext(ctx, query, seg.UUID, seg.StartTimeMs, seg.EndTimeMs, seg.Content, seg.ContentEnglish, seg.CharCount).
		Scan(&seg.ID, &seg.MediaID, &seg.Episode, &seg.Position, &seg.Version, &seg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSegmentNotFound
	}
	if err != nil {
		return err
	}

	m, err := getMedia(ctx, tx, seg.MediaID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.afterCommit(ctx, Change{Op: ChangeUpdate, Segment: seg, Media: m})
	return nil
}

func (r *PostgresRepo) DeleteSegment(ctx context.Context, uuid string) error {
	seg := &Segment{UUID: uuid}
	query := `DELETE FROM segments WHERE uuid = $1
		RETURNING id, media_id, episode, position, nextval('record_version_seq')`
	err := r.db.QueryRowContext(ctx, query, uuid).Scan(&seg.ID, &seg.MediaID, &seg.Episode, &seg.Position, &seg.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSegmentNotFound
	}
	if err != nil {
		return err
	}

	r.afterCommit(ctx, Change{Op: ChangeDelete, Segment: seg})
	return nil
}

// ListSegments returns the segments of mediaID ordered by episode and
// position. A non-empty episodes restricts the result to those episodes.
func (r *PostgresRepo) ListSegments(ctx context.Context, mediaID int64, episodes []int) ([]Segment, error) {
	var filter pq.Int64Array
	for _, e := range episodes {
		filter = append(filter, int64(e))
	}

	query := `SELECT id, uuid, media_id, episode, position, start_time_ms, end_time_ms, content, content_english,
			char_count, version, updated_at
		FROM segments
		WHERE media_id = $1 AND ($2::bigint[] IS NULL OR episode = ANY($2))
		ORDER BY episode ASC, position ASC`
	rows, err := r.db.QueryContext(ctx, query, mediaID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.ID, &s.UUID, &s.MediaID, &s.Episode, &s.Position, &s.StartTimeMs, &s.EndTimeMs,
			&s.Content, &s.ContentEnglish, &s.CharCount, &s.Version, &s.UpdatedAt); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

func (r *PostgresRepo) CountMedia(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountSegments(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments`).Scan(&count)
	return count, err
}
