package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is matched by StatusError values for 404 responses.
var ErrNotFound = errors.New("test not found")

// ErrBodyTooLarge is returned when a response exceeds the client's body cap.
var ErrBodyTooLarge = errors.New("response body too large")

const (
	maxBodySize      = 8 << 20
	maxErrorBodySize = 4 << 10
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// HTTPClient makes REST calls to the stress-api server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	maxBody int64
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8000").
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		maxBody: maxBodySize,
	}
}

// SubmitTest sends POST /api/tests.
func (c *HTTPClient) SubmitTest(ctx context.Context, cfg TestConfig) (SubmitResponse, error) {
	var out SubmitResponse
	if err := c.post(ctx, "/api/tests", cfg, &out); err != nil {
		return SubmitResponse{}, err
	}
	if out.TestID == "" {
		return SubmitResponse{}, fmt.Errorf("%w: submit response has no test id", ErrMalformed)
	}
	return out, nil
}

// FetchSummary fetches /api/tests/{id}/summary.
func (c *HTTPClient) FetchSummary(ctx context.Context, testID string) (*Summary, error) {
	data, err := c.get(ctx, testPath(testID, "summary"))
	if err != nil {
		return nil, err
	}
	return DecodeSummary(data)
}

// FetchFinalResults fetches /api/tests/{id}/results.
func (c *HTTPClient) FetchFinalResults(ctx context.Context, testID string) (*FinalResults, error) {
	data, err := c.get(ctx, testPath(testID, "results"))
	if err != nil {
		return nil, err
	}
	return DecodeFinalResults(data)
}

// StopTest sends POST /api/tests/{id}/stop.
func (c *HTTPClient) StopTest(ctx context.Context, testID string) error {
	return c.post(ctx, testPath(testID, "stop"), nil, nil)
}

func testPath(testID, leaf string) string {
	return "/api/tests/" + url.PathEscape(testID) + "/" + leaf
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError(http.MethodGet, path, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("GET %s: %w (limit %d bytes)", path, ErrBodyTooLarge, c.maxBody)
	}
	return body, nil
}

// statusError reads at most maxErrorBodySize bytes of a failed response.
func statusError(method, path string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(http.MethodPost, path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBody)).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
