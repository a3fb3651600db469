package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

type Repository interface {
	UpsertVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	GetVideoByFingerprint(ctx context.Context, fingerprint string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)

	CreateClip(ctx context.Context, clip *ClipRecord) error
	GetClip(ctx context.Context, videoID string, clipID int) (*ClipRecord, error)
	ListClips(ctx context.Context, videoID string) ([]*ClipRecord, error)
	DeleteClip(ctx context.Context, videoID string, clipID int) error
	SetClipArtifact(ctx context.Context, videoID string, clipID int, path string) error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	FindActiveJob(ctx context.Context, videoID string, clipID int) (*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	SetJobOutput(ctx context.Context, id, outputPath string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// UpsertVideo inserts a video or, when the fingerprint is known, refreshes
// its path and open time. video.ID and video.NextClipID are set from the
// stored row.
func (r *SQLiteRepository) UpsertVideo(ctx context.Context, v *Video) error {
	now := time.Now()
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.OpenedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, fingerprint, path, filename, total_frames, fps, width, height, next_clip_id, created_at, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			path = excluded.path,
			filename = excluded.filename,
			opened_at = excluded.opened_at
	`, v.ID, v.Fingerprint, v.Path, v.Filename, v.TotalFrames, v.FPS, v.Width, v.Height, v.NextClipID,
		v.CreatedAt.Format(time.RFC3339), v.OpenedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	stored, err := r.GetVideoByFingerprint(ctx, v.Fingerprint)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("video %s vanished after upsert", v.Fingerprint)
	}
	*v = *stored
	return nil
}

const videoColumns = `id, fingerprint, path, filename, total_frames, fps, width, height, next_clip_id, created_at, opened_at`

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

func (r *SQLiteRepository) GetVideoByFingerprint(ctx context.Context, fingerprint string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE fingerprint = ?`, fingerprint)
	return scanVideo(row)
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY opened_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var createdAt, openedAt string

	err := row.Scan(&v.ID, &v.Fingerprint, &v.Path, &v.Filename, &v.TotalFrames, &v.FPS,
		&v.Width, &v.Height, &v.NextClipID, &createdAt, &openedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.OpenedAt, _ = time.Parse(time.RFC3339, openedAt)
	return &v, nil
}

// CreateClip stores a clip and raises the video's id counter past it in the
// same transaction.
func (r *SQLiteRepository) CreateClip(ctx context.Context, c *ClipRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clips (video_id, clip_id, start_frame, end_frame, start_time, end_time, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, c.VideoID, c.ID, c.StartFrame, c.EndFrame, c.StartTime, c.EndTime, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE videos SET next_clip_id = MAX(next_clip_id, ?) WHERE id = ?
	`, c.ID+1, c.VideoID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const clipColumns = `video_id, clip_id, start_frame, end_frame, start_time, end_time, artifact_path, exported_at, deleted, created_at`

func (r *SQLiteRepository) GetClip(ctx context.Context, videoID string, clipID int) (*ClipRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE video_id = ? AND clip_id = ? AND deleted = 0
	`, videoID, clipID)
	return scanClip(row)
}

func (r *SQLiteRepository) ListClips(ctx context.Context, videoID string) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE video_id = ? AND deleted = 0 ORDER BY clip_id
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*ClipRecord
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func scanClip(row scanner) (*ClipRecord, error) {
	var c ClipRecord
	var artifact, exportedAt sql.NullString
	var deleted int
	var createdAt string

	err := row.Scan(&c.VideoID, &c.ID, &c.StartFrame, &c.EndFrame, &c.StartTime, &c.EndTime,
		&artifact, &exportedAt, &deleted, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.ArtifactPath = artifact.String
	if exportedAt.Valid {
		if t, err := time.Parse(time.RFC3339, exportedAt.String); err == nil {
			c.ExportedAt = &t
		}
	}
	c.Deleted = deleted == 1
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// DeleteClip soft-deletes so the clip id stays taken.
func (r *SQLiteRepository) DeleteClip(ctx context.Context, videoID string, clipID int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clips SET deleted = 1 WHERE video_id = ? AND clip_id = ? AND deleted = 0
	`, videoID, clipID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return timeline.ErrClipNotFound
	}
	return nil
}

// SetClipArtifact records a successful export. An empty path clears it.
func (r *SQLiteRepository) SetClipArtifact(ctx context.Context, videoID string, clipID int, path string) error {
	var exportedAt sql.NullString
	if path != "" {
		exportedAt = nullString(time.Now().Format(time.RFC3339))
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET artifact_path = ?, exported_at = ? WHERE video_id = ? AND clip_id = ?
	`, nullString(path), exportedAt, videoID, clipID)
	return err
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, video_id, clip_id, progress, output_path, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.VideoID), j.ClipID,
		j.Progress, nullString(j.OutputPath), nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

const jobColumns = `id, type, status, video_id, clip_id, progress, output_path, error, created_at, updated_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var videoID, outputPath, errorMsg sql.NullString
	var clipID sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &videoID, &clipID, &j.Progress, &outputPath, &errorMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.VideoID = videoID.String
	j.ClipID = int(clipID.Int64)
	j.OutputPath = outputPath.String
	j.Error = errorMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC
	`, JobStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// FindActiveJob returns a pending or running export for the clip, if any.
func (r *SQLiteRepository) FindActiveJob(ctx context.Context, videoID string, clipID int) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE video_id = ? AND clip_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, videoID, clipID, JobStatusPending, JobStatusRunning)
	return scanJob(row)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, time.Now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) SetJobOutput(ctx context.Context, id, outputPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET output_path = ?, updated_at = ? WHERE id = ?
	`, nullString(outputPath), time.Now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
