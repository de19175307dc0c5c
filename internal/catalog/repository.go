package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trailcam/trailcam-agent/internal/db"
)

type Repository interface {
	RegisterVideo(ctx context.Context, filename string) (*Video, error)
	GetVideo(ctx context.Context, id string) (*Video, error)
	GetVideoByFilename(ctx context.Context, filename string) (*Video, error)
	ListVideos(ctx context.Context, limit, offset int) ([]*Video, error)
	CountVideos(ctx context.Context) (int, error)
	DeleteVideo(ctx context.Context, id string) error

	CompleteVideo(ctx context.Context, d *Detection) error
	GetDetection(ctx context.Context, videoID string) (*Detection, error)
}

// SQLRepository implements Repository with database/sql for SQLite and
// PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: conn, dialect: dialect}
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

// RegisterVideo inserts a processing row for filename. The UNIQUE
// constraint makes concurrent registrations of one name race-free.
func (r *SQLRepository) RegisterVideo(ctx context.Context, filename string) (*Video, error) {
	now := time.Now().UTC()
	v := &Video{
		ID:        NewID(),
		Filename:  filename,
		Status:    VideoStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO videos (id, filename, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), v.ID, v.Filename, v.Status, v.CreatedAt.Format(time.RFC3339), v.UpdatedAt.Format(time.RFC3339))
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

const videoColumns = `
	v.id, v.filename, v.status, v.created_at, v.updated_at, d.classes_detected, d.total_frames
	FROM videos v LEFT JOIN detections d ON d.video_id = v.id`

func (r *SQLRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` WHERE v.id = ?`), id)
	return r.scanVideo(row)
}

func (r *SQLRepository) GetVideoByFilename(ctx context.Context, filename string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` WHERE v.filename = ?`), filename)
	return r.scanVideo(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanVideo(row scanner) (*Video, error) {
	var v Video
	var createdAt, updatedAt string
	var classes sql.NullString
	var totalFrames sql.NullInt64

	err := row.Scan(&v.ID, &v.Filename, &v.Status, &createdAt, &updatedAt, &classes, &totalFrames)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	v.ClassesDetected = classes.String
	v.TotalFrames = int(totalFrames.Int64)
	return &v, nil
}

func (r *SQLRepository) ListVideos(ctx context.Context, limit, offset int) ([]*Video, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+videoColumns+`
		ORDER BY v.created_at DESC, v.filename LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := r.scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLRepository) CountVideos(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&count)
	return count, err
}

// DeleteVideo removes the video; its detection row goes with it through
// ON DELETE CASCADE.
func (r *SQLRepository) DeleteVideo(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q(`DELETE FROM videos WHERE id = ?`), id)
	return err
}

// CompleteVideo stores d and marks its video completed in one transaction.
func (r *SQLRepository) CompleteVideo(ctx context.Context, d *Detection) error {
	var maxCount any
	if len(d.MaxCountPerFrame) > 0 {
		b, err := json.Marshal(d.MaxCountPerFrame)
		if err != nil {
			return fmt.Errorf("marshal max_count_per_frame: %w", err)
		}
		maxCount = string(b)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.q(`
		INSERT INTO detections (id, video_id, detection_json, classes_detected, max_count_per_frame, total_frames, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), d.ID, d.VideoID, string(d.Payload), nullStringPtr(d.ClassesDetected), maxCount, d.TotalFrames, d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}

	res, err := tx.ExecContext(ctx, r.q(`
		UPDATE videos SET status = ?, updated_at = ? WHERE id = ?
	`), VideoStatusCompleted, time.Now().UTC().Format(time.RFC3339), d.VideoID)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("video %s no longer exists", d.VideoID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetDetection(ctx context.Context, videoID string) (*Detection, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, video_id, detection_json, classes_detected, max_count_per_frame, total_frames, created_at
		FROM detections WHERE video_id = ?
	`), videoID)

	var d Detection
	var payload, createdAt string
	var classes, maxCount sql.NullString

	err := row.Scan(&d.ID, &d.VideoID, &payload, &classes, &maxCount, &d.TotalFrames, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.Payload = json.RawMessage(payload)
	if classes.Valid {
		d.ClassesDetected = &classes.String
	}
	if maxCount.Valid {
		if err := json.Unmarshal([]byte(maxCount.String), &d.MaxCountPerFrame); err != nil {
			return nil, fmt.Errorf("decode max_count_per_frame: %w", err)
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}
