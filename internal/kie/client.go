package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the kie.ai job API that renders ASMR videos. Task creation is
// asynchronous: the generator calls back over HTTP when it finishes, so nothing
// here polls by default; GetRecordInfo exists for manual reconciliation.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type GenerateOptions struct {
	Prompt      string
	Model       string
	AspectRatio string
	Duration    int
	CallbackURL string
}

// RecordInfo is the normalized state of a generation task.
type RecordInfo struct {
	TaskID       string
	State        string
	VideoURL     string
	ThumbnailURL string
	FailCode     string
	FailMsg      string
}

const defaultModel = "veo3-fast"

func NewClient(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateTask submits a generation job and returns its task id.
func (c *Client) CreateTask(ctx context.Context, opts GenerateOptions) (string, error) {
	if opts.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	input := map[string]any{
		"prompt": opts.Prompt,
	}
	if opts.AspectRatio != "" {
		input["aspect_ratio"] = opts.AspectRatio
	}
	if opts.Duration > 0 {
		input["duration"] = opts.Duration
	}

	payload := map[string]any{
		"model": model,
		"input": input,
	}
	if opts.CallbackURL != "" {
		payload["callBackUrl"] = opts.CallbackURL
	}

	fullURL := c.baseURL + "/api/v1/jobs/createTask"

	if c.log != nil {
		c.log.Info("creating generation task", "url", fullURL, "model", model)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post generation task: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("create task failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}

	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}

	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("generation task created", "task_id", createResp.Data.TaskID)
	}

	return createResp.Data.TaskID, nil
}

// GetRecordInfo fetches the current state of a task. resultUrls carries the
// rendered video first and the extracted thumbnail second.
func (c *Client) GetRecordInfo(ctx context.Context, taskID string) (*RecordInfo, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskId cannot be empty")
	}

	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL := c.baseURL + "/api/v1/jobs/recordInfo?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("record info failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}

	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if statusResp.Code != 200 {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	info := &RecordInfo{
		TaskID:   statusResp.Data.TaskID,
		State:    statusResp.Data.State,
		FailCode: statusResp.Data.FailCode,
		FailMsg:  statusResp.Data.FailMsg,
	}

	if statusResp.Data.State == "success" && statusResp.Data.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("parse resultJson: %w", err)
		}
		if len(result.ResultURLs) > 0 {
			info.VideoURL = result.ResultURLs[0]
		}
		if len(result.ResultURLs) > 1 {
			info.ThumbnailURL = result.ResultURLs[1]
		}
	}

	return info, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
