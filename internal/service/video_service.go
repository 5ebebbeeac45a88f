package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

// DownloadError is a failed media fetch: a non-200 response or an inactivity
// timeout while streaming.
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// PersistenceError is a failed catalog insert.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist video: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Uploader publishes a local file to object storage and returns its public URL.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, contentType string) (string, error)
}

// VideoMetadata identifies the generation a downloaded asset belongs to.
type VideoMetadata struct {
	TaskID string
	UserID string
	Prompt string
}

// PublishResult is the outcome of the fetch-and-publish stage. Local paths are
// still on disk; the caller removes them once it is done.
type PublishResult struct {
	VideoURL      string
	ThumbnailURL  string
	LocalVideo    string
	LocalThumb    string
	VideoFileSize int64
}

// CompletionResult is what CompleteVideoProcessing hands back to the caller.
type CompletionResult struct {
	VideoID      int64
	VideoURL     string
	ThumbnailURL string
}

// VideoService moves finished generator output into our own storage: it
// downloads the rendered video and its thumbnail, republishes both to the
// bucket, records a catalog row, and links the row back to the ledger.
//
// There are no retries at any stage; every external call is attempted once.
type VideoService struct {
	cfg        config.Config
	log        *slog.Logger
	videos     *repository.VideoRepository
	profiles   *repository.ProfileRepository
	credits    *CreditService
	uploader   Uploader
	httpClient *http.Client
	inactivity time.Duration
}

func NewVideoService(cfg config.Config, log *slog.Logger, videos *repository.VideoRepository, profiles *repository.ProfileRepository, credits *CreditService, uploader Uploader) *VideoService {
	inactivity := cfg.DownloadInactivityTimeout
	if inactivity <= 0 {
		inactivity = 5 * time.Minute
	}
	return &VideoService{
		cfg:      cfg,
		log:      log,
		videos:   videos,
		profiles: profiles,
		credits:  credits,
		uploader: uploader,
		httpClient: &http.Client{
			// Per-download bound comes from the inactivity watchdog, not a
			// total-request timeout; large videos stream for a long time.
			Timeout: 0,
		},
		inactivity: inactivity,
	}
}

// DownloadFile streams url into the temp directory under fileName and returns
// the local path. The download fails if the server responds non-200 or if no
// bytes arrive for the inactivity window.
func (s *VideoService) DownloadFile(ctx context.Context, rawURL, fileName string) (string, error) {
	dir := s.tempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	localPath := filepath.Join(dir, fileName)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	// The watchdog cancels the request when the body stalls; every successful
	// read pushes the deadline out again.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(s.inactivity, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if stalled.Load() {
			return "", &DownloadError{URL: rawURL, Err: fmt.Errorf("no activity for %s", s.inactivity)}
		}
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", localPath, err)
	}

	reader := &activityReader{
		inner:      resp.Body,
		watchdog:   watchdog,
		inactivity: s.inactivity,
		log:        s.log,
	}
	written, err := io.Copy(file, reader)
	closeErr := file.Close()
	if err != nil {
		os.Remove(localPath)
		if stalled.Load() {
			return "", &DownloadError{URL: rawURL, Err: fmt.Errorf("no activity for %s", s.inactivity)}
		}
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	if closeErr != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("close %s: %w", localPath, closeErr)
	}

	s.log.Info("downloaded media file", "url", rawURL, "path", localPath, "bytes", written)
	return localPath, nil
}

// FetchAndPublish downloads the video and thumbnail concurrently, then uploads
// both to object storage concurrently. Either download or upload failing aborts
// the whole operation, and both temp files are removed before the error
// propagates. On success the temp files are left for the caller to clean up.
func (s *VideoService) FetchAndPublish(ctx context.Context, videoURL, thumbnailURL string, meta VideoMetadata) (*PublishResult, error) {
	base := fmt.Sprintf("%d_%s", time.Now().Unix(), meta.TaskID)
	result := &PublishResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		localPath, err := s.DownloadFile(gctx, videoURL, base+".mp4")
		if err != nil {
			return err
		}
		result.LocalVideo = localPath
		return nil
	})
	g.Go(func() error {
		localPath, err := s.DownloadFile(gctx, thumbnailURL, base+".jpg")
		if err != nil {
			return err
		}
		result.LocalThumb = localPath
		return nil
	})
	if err := g.Wait(); err != nil {
		s.cleanupFiles(result.LocalVideo, result.LocalThumb)
		return nil, err
	}

	info, err := os.Stat(result.LocalVideo)
	if err != nil {
		s.cleanupFiles(result.LocalVideo, result.LocalThumb)
		return nil, fmt.Errorf("stat downloaded video: %w", err)
	}
	result.VideoFileSize = info.Size()

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		publicURL, err := s.uploader.UploadFile(gctx, result.LocalVideo, "video/mp4")
		if err != nil {
			return fmt.Errorf("upload video: %w", err)
		}
		result.VideoURL = publicURL
		return nil
	})
	g.Go(func() error {
		publicURL, err := s.uploader.UploadFile(gctx, result.LocalThumb, "image/jpeg")
		if err != nil {
			return fmt.Errorf("upload thumbnail: %w", err)
		}
		result.ThumbnailURL = publicURL
		return nil
	})
	if err := g.Wait(); err != nil {
		s.cleanupFiles(result.LocalVideo, result.LocalThumb)
		return nil, err
	}

	return result, nil
}

// SaveVideo records one catalog row for a completed generation.
func (s *VideoService) SaveVideo(ctx context.Context, result *PublishResult, meta VideoMetadata) (*models.Video, error) {
	video := &models.Video{
		UserID:       meta.UserID,
		TaskID:       meta.TaskID,
		Prompt:       meta.Prompt,
		VideoURL:     result.VideoURL,
		ThumbnailURL: result.ThumbnailURL,
		FileSize:     result.VideoFileSize,
		Status:       models.VideoStatusCompleted,
	}
	if err := s.videos.Insert(ctx, video); err != nil {
		return nil, &PersistenceError{Err: err}
	}
	if video.ID == 0 {
		return nil, &PersistenceError{Err: errors.New("insert returned no row id")}
	}
	return video, nil
}

// CompleteVideoProcessing is the orchestrating operation invoked once the
// generator reports a finished task: fetch and publish both assets, persist the
// catalog row, tag the paying ledger transaction, and clean up temp files.
// Tagging failures never roll back the persisted row; the completion is already
// a success at that point.
func (s *VideoService) CompleteVideoProcessing(ctx context.Context, videoURL, thumbnailURL string, meta VideoMetadata) (*CompletionResult, error) {
	published, err := s.FetchAndPublish(ctx, videoURL, thumbnailURL, meta)
	if err != nil {
		return nil, err
	}

	video, err := s.SaveVideo(ctx, published, meta)
	if err != nil {
		s.cleanupFiles(published.LocalVideo, published.LocalThumb)
		return nil, err
	}

	if meta.UserID != "" {
		if err := s.credits.TagCompletion(ctx, meta.UserID, meta.TaskID, video.ID); err != nil {
			s.log.Error("tag ledger transaction", "user", meta.UserID, "task", meta.TaskID, "err", err)
		}
		if err := s.profiles.IncrementVideosCreated(ctx, meta.UserID); err != nil {
			s.log.Error("increment videos created", "user", meta.UserID, "err", err)
		}
	}

	s.cleanupFiles(published.LocalVideo, published.LocalThumb)

	s.log.Info("video processing completed", "task", meta.TaskID, "video_id", video.ID, "size", published.VideoFileSize)
	return &CompletionResult{
		VideoID:      video.ID,
		VideoURL:     video.VideoURL,
		ThumbnailURL: video.ThumbnailURL,
	}, nil
}

// Videos lists a user's catalog rows, newest first.
func (s *VideoService) Videos(ctx context.Context, userID string, limit int) ([]models.Video, error) {
	return s.videos.ListByUser(ctx, userID, limit)
}

// FindByTask returns the catalog row produced for a task, or nil.
func (s *VideoService) FindByTask(ctx context.Context, taskID string) (*models.Video, error) {
	return s.videos.FindByTaskID(ctx, taskID)
}

func (s *VideoService) tempDir() string {
	if s.cfg.TempDir != "" {
		return s.cfg.TempDir
	}
	if s.cfg.Production {
		return filepath.Join(os.TempDir(), "asmrgen")
	}
	return "temp"
}

func (s *VideoService) cleanupFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Error("remove temp file", "path", p, "err", err)
		}
	}
}

// progressLogInterval is how many bytes pass between download progress lines.
const progressLogInterval = 10 << 20

// activityReader resets the download watchdog on every successful read and
// reports byte progress as it streams.
type activityReader struct {
	inner      io.Reader
	watchdog   *time.Timer
	inactivity time.Duration
	log        *slog.Logger
	total      int64
	lastLogged int64
}

func (r *activityReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.total += int64(n)
		r.watchdog.Reset(r.inactivity)
		if r.log != nil && r.total-r.lastLogged >= progressLogInterval {
			r.log.Debug("download progress", "bytes", r.total)
			r.lastLogged = r.total
		}
	}
	return n, err
}
