package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/kie"
	"github.com/mellowlab/asmrgen/internal/repository"
)

func newGenerationFixture(t *testing.T, kieHandler http.HandlerFunc) (*GenerationService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var kieBase string
	if kieHandler != nil {
		srv := httptest.NewServer(kieHandler)
		t.Cleanup(srv.Close)
		kieBase = srv.URL
	} else {
		kieBase = "http://kie.invalid"
	}

	cfg := config.Config{
		SignupCredits:             20,
		CreditsPerVideo:           10,
		KIECallbackURL:            "https://api.example.com/callbacks/kie",
		TempDir:                   t.TempDir(),
		DownloadInactivityTimeout: 5 * time.Second,
	}
	profiles := repository.NewProfileRepository(db)
	transactions := repository.NewTransactionRepository(db)
	credits := NewCreditService(discardLogger(), profiles, transactions)
	videos := NewVideoService(cfg, discardLogger(), repository.NewVideoRepository(db), profiles, credits, &fakeUploader{})
	client := kie.NewClient("kie-key", kieBase, 5*time.Second, nil)
	svc := NewGenerationService(cfg, discardLogger(), profiles, transactions, credits, videos, client)
	return svc, mock
}

func kieCreateTaskHandler(t *testing.T, taskID string, captured *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": taskID},
		})
	}
}

func TestStartSubmitsTaskAndDeducts(t *testing.T) {
	var captured map[string]any
	svc, mock := newGenerationFixture(t, kieCreateTaskHandler(t, "task-xyz", &captured))

	// Ensure + advisory balance check.
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(50, 0, 0))
	// Deduct re-reads the profile, writes the balance, records usage.
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(50, 0, 0))
	mock.ExpectExec("UPDATE user_profiles SET credits").
		WithArgs(40, 10, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("user-1", "usage", -10, "ASMR video generation (Task: task-xyz)", "task-xyz", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(41, 1))

	start, err := svc.Start(context.Background(), "user-1", GenerationRequest{Prompt: "crinkling paper"})
	require.NoError(t, err)
	assert.Equal(t, "task-xyz", start.TaskID)
	assert.Equal(t, 40, start.RemainingCredits)
	assert.NoError(t, mock.ExpectationsWereMet())

	input, ok := captured["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "16:9", input["aspect_ratio"])
	assert.Equal(t, "https://api.example.com/callbacks/kie", captured["callBackUrl"])
}

func TestStartRequiresPrompt(t *testing.T) {
	svc, _ := newGenerationFixture(t, nil)
	_, err := svc.Start(context.Background(), "user-1", GenerationRequest{})
	assert.Error(t, err)
}

func TestStartRejectsLowBalanceBeforeSubmitting(t *testing.T) {
	svc, mock := newGenerationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("generator must not be called when the balance is too low")
	})

	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(5, 0, 0))

	_, err := svc.Start(context.Background(), "user-1", GenerationRequest{Prompt: "rain"})
	assert.ErrorIs(t, err, ErrCreditsRequired)
}

func TestStartCreatesProfileOnFirstUse(t *testing.T) {
	svc, mock := newGenerationFixture(t, kieCreateTaskHandler(t, "task-new", nil))

	mock.ExpectQuery("SELECT id, credits").
		WithArgs("fresh-user").
		WillReturnRows(sqlmock.NewRows([]string{"id", "credits", "total_credits_spent", "total_videos_created", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO user_profiles").
		WithArgs("fresh-user", 20, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("fresh-user").
		WillReturnRows(profileRows(20, 0, 0))
	mock.ExpectExec("UPDATE user_profiles SET credits").
		WithArgs(10, 10, "fresh-user").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(42, 1))

	start, err := svc.Start(context.Background(), "fresh-user", GenerationRequest{Prompt: "rain"})
	require.NoError(t, err)
	assert.Equal(t, 10, start.RemainingCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCompletionFailureRefunds(t *testing.T) {
	svc, mock := newGenerationFixture(t, nil)
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-xyz").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}).
			AddRow(41, "user-1", "usage", -10, "ASMR video generation (Task: task-xyz)", "task-xyz", nil, nil, nil, now))
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(40, 10, 0))
	mock.ExpectExec("UPDATE user_profiles SET credits").
		WithArgs(50, 0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("user-1", "refund", 10, "Generation failed: render crashed (Task: task-xyz)", "task-xyz", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(42, 1))

	result, err := svc.HandleCompletion(context.Background(), "task-xyz", false, "", "", "render crashed")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCompletionRefundsDeductedAmount(t *testing.T) {
	// The fixture configures 10 credits per video, but the usage row recorded
	// 15; the refund must mirror the row, not the current price.
	svc, mock := newGenerationFixture(t, nil)
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-old").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}).
			AddRow(43, "user-1", "usage", -15, "ASMR video generation (Task: task-old)", "task-old", nil, nil, nil, now))
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(30, 15, 0))
	mock.ExpectExec("UPDATE user_profiles SET credits").
		WithArgs(45, 0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("user-1", "refund", 15, "Generation failed: render crashed (Task: task-old)", "task-old", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(44, 1))

	result, err := svc.HandleCompletion(context.Background(), "task-old", false, "", "", "render crashed")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCompletionUnknownTaskSkipsRefund(t *testing.T) {
	svc, mock := newGenerationFixture(t, nil)

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}))

	result, err := svc.HandleCompletion(context.Background(), "task-ghost", false, "", "", "whatever")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCompletionDuplicateCallbackReturnsExistingVideo(t *testing.T) {
	svc, mock := newGenerationFixture(t, nil)
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-xyz").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}).
			AddRow(41, "user-1", "usage", -10, "ASMR video generation (Task: task-xyz)", "task-xyz", 7, nil, nil, now))
	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs("task-xyz").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "task_id", "prompt", "video_url", "thumbnail_url", "file_size", "status", "created_at", "updated_at"}).
			AddRow(7, "user-1", "task-xyz", "rain", "https://media.example.com/v.mp4", "https://media.example.com/t.jpg", 1024, "completed", now, now))

	result, err := svc.HandleCompletion(context.Background(), "task-xyz", true, "https://files.example.com/v.mp4", "https://files.example.com/t.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.VideoID)
	assert.Equal(t, "https://media.example.com/v.mp4", result.VideoURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCompletionSuccessNeedsVideoURL(t *testing.T) {
	svc, mock := newGenerationFixture(t, nil)

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-xyz").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}))

	_, err := svc.HandleCompletion(context.Background(), "task-xyz", true, "", "", "")
	assert.Error(t, err)
}

func TestHandleCompletionSuccessNeedsThumbnailURL(t *testing.T) {
	// Some generators report success with a single result URL; without a
	// thumbnail the media pipeline must not start.
	svc, mock := newGenerationFixture(t, nil)
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, transaction_type").
		WithArgs("usage", "task-xyz").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "transaction_type", "amount", "description", "task_id", "video_id", "check_in_id", "referral_id", "created_at"}).
			AddRow(41, "user-1", "usage", -10, "ASMR video generation (Task: task-xyz)", "task-xyz", nil, nil, nil, now))

	_, err := svc.HandleCompletion(context.Background(), "task-xyz", true, "https://files.example.com/v.mp4", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thumbnail")
	assert.NoError(t, mock.ExpectationsWereMet())
}
