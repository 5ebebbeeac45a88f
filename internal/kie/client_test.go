package kie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("kie-key", srv.URL, 5*time.Second, nil)
}

func TestCreateTaskSubmitsJob(t *testing.T) {
	var captured map[string]any
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-abc"},
		})
	})

	taskID, err := client.CreateTask(context.Background(), GenerateOptions{
		Prompt:      "soft rain on a tin roof",
		AspectRatio: "16:9",
		Duration:    8,
		CallbackURL: "https://api.example.com/callbacks/kie",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-abc", taskID)
	assert.Equal(t, "Bearer kie-key", auth)
	assert.Equal(t, "veo3-fast", captured["model"])
	assert.Equal(t, "https://api.example.com/callbacks/kie", captured["callBackUrl"])

	input, ok := captured["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "soft rain on a tin roof", input["prompt"])
	assert.Equal(t, "16:9", input["aspect_ratio"])
	assert.Equal(t, float64(8), input["duration"])
}

func TestCreateTaskRequiresPrompt(t *testing.T) {
	client := NewClient("kie-key", "https://unused.example.com", 0, nil)
	_, err := client.CreateTask(context.Background(), GenerateOptions{})
	assert.Error(t, err)
}

func TestCreateTaskEnvelopeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 402, "msg": "insufficient balance"})
	})

	_, err := client.CreateTask(context.Background(), GenerateOptions{Prompt: "rain"})
	assert.ErrorContains(t, err, "code=402")
	assert.ErrorContains(t, err, "insufficient balance")
}

func TestCreateTaskHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})

	_, err := client.CreateTask(context.Background(), GenerateOptions{Prompt: "rain"})
	assert.ErrorContains(t, err, "status=503")
}

func TestGetRecordInfoParsesResultURLs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
		assert.Equal(t, "task-abc", r.URL.Query().Get("taskId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId":     "task-abc",
				"state":      "success",
				"resultJson": `{"resultUrls":["https://files.example.com/v.mp4","https://files.example.com/t.jpg"]}`,
			},
		})
	})

	info, err := client.GetRecordInfo(context.Background(), "task-abc")
	require.NoError(t, err)
	assert.Equal(t, "success", info.State)
	assert.Equal(t, "https://files.example.com/v.mp4", info.VideoURL)
	assert.Equal(t, "https://files.example.com/t.jpg", info.ThumbnailURL)
}

func TestGetRecordInfoFailedTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId":   "task-abc",
				"state":    "fail",
				"failCode": "500",
				"failMsg":  "render crashed",
			},
		})
	})

	info, err := client.GetRecordInfo(context.Background(), "task-abc")
	require.NoError(t, err)
	assert.Equal(t, "fail", info.State)
	assert.Equal(t, "render crashed", info.FailMsg)
	assert.Empty(t, info.VideoURL)
}
