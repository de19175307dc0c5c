package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

// InferenceError represents a non-2xx answer from the inference service.
type InferenceError struct {
	StatusCode int
	Body       string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *InferenceError) IsRetryable() bool {
	return e.StatusCode >= 500
}

const maxAttempts = 3

// HTTPClient sends frames to a remote inference service as multipart
// JPEG uploads.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		backoff: 250 * time.Millisecond,
	}
}

// DetectImage posts one JPEG and returns the detections the service found.
// 5xx answers and transport failures are retried a few times before giving
// up.
func (c *HTTPClient) DetectImage(ctx context.Context, image []byte, conf, iou float64) ([]detection.Detection, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		dets, err := c.detectOnce(ctx, image, conf, iou)
		if err == nil {
			return dets, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == maxAttempts {
			break
		}

		c.logger.Warn("inference request failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) detectOnce(ctx context.Context, image []byte, conf, iou float64) ([]detection.Detection, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create image field: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write image field: %w", err)
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(conf, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write conf field: %w", err)
	}
	if err := writer.WriteField("iou", strconv.FormatFloat(iou, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write iou field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &InferenceError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return result.Detections, nil
}

// Health checks that the inference service answers GET /health.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &InferenceError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// transportError is a request that never got an HTTP answer.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("http request failed: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.IsRetryable()
	}
	var te *transportError
	return errors.As(err, &te)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
