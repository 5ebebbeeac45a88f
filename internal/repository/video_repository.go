package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/models"
)

type VideoRepository struct {
	db *sql.DB
}

func NewVideoRepository(db *sql.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Insert writes one catalog row and fills in the generated id.
func (r *VideoRepository) Insert(ctx context.Context, video *models.Video) error {
	const query = `
INSERT INTO videos (user_id, task_id, prompt, video_url, thumbnail_url, file_size, status)
VALUES (NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, video.UserID, video.TaskID, video.Prompt, video.VideoURL, video.ThumbnailURL, video.FileSize, video.Status)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("video last insert id: %w", err)
	}
	video.ID = id
	return nil
}

func (r *VideoRepository) FindByTaskID(ctx context.Context, taskID string) (*models.Video, error) {
	const query = `
SELECT id, COALESCE(user_id, ''), task_id, COALESCE(prompt, ''), video_url, COALESCE(thumbnail_url, ''), file_size, status, created_at, updated_at
FROM videos WHERE task_id = ?
ORDER BY id DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, taskID)
	var v models.Video
	if err := row.Scan(&v.ID, &v.UserID, &v.TaskID, &v.Prompt, &v.VideoURL, &v.ThumbnailURL, &v.FileSize, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan video: %w", err)
	}
	return &v, nil
}

func (r *VideoRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Video, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, COALESCE(user_id, ''), task_id, COALESCE(prompt, ''), video_url, COALESCE(thumbnail_url, ''), file_size, status, created_at, updated_at
FROM videos
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.UserID, &v.TaskID, &v.Prompt, &v.VideoURL, &v.ThumbnailURL, &v.FileSize, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan video list: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
