// Package tuningclient submits cohort payloads to the tuning endpoint and
// falls back to a local estimate when the endpoint cannot answer.
package tuningclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/pkg/logger"
	"github.com/okian/calmmind/pkg/metrics"
)

// Defaults.
const (
	DefaultURL     = "http://localhost:9080/tuning"
	DefaultTimeout = 5 * time.Second

	maxResponseBytes  = 1 << 20
	idempotencyHeader = "Idempotency-Key"
)

// Source tells where a result came from.
type Source string

// Result sources.
const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Fallback reasons recorded in metrics.
const (
	reasonTimeout   = "timeout"
	reasonTransport = "transport"
	reasonStatus    = "status"
	reasonDecode    = "decode"
	reasonRequest   = "request"
)

// ErrStatus is wrapped when the endpoint answers with a non-2xx status.
var ErrStatus = errors.New("unexpected status")

// Result is the outcome of a submission. Err holds the cause when Source
// is SourceFallback.
type Result struct {
	Source   Source               `json:"source"`
	Response model.TuningResponse `json:"response"`
	Err      error                `json:"-"`
}

// Remote reports whether the response came from the endpoint.
func (r Result) Remote() bool { return r.Source == SourceRemote }

// Client posts tuning payloads.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	now     func() time.Time
	log     logger.Logger
}

// New creates a Client for url; an empty url means DefaultURL.
func New(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:     url,
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("tuningclient")
	}
	return c
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Submit posts p. It never fails: any error yields a local estimate.
func (c *Client) Submit(ctx context.Context, p model.CohortPayload) Result {
	return c.SubmitWithKey(ctx, "", p)
}

// SubmitWithKey is Submit with an idempotency key; an empty key sends none.
func (c *Client) SubmitWithKey(ctx context.Context, key string, p model.CohortPayload) Result {
	resp, err := c.post(ctx, key, p)
	if err == nil {
		return Result{Source: SourceRemote, Response: resp}
	}

	reason := classify(err)
	metrics.RecordTuningFallback(reason)
	c.log.Warn(ctx, "cloud tuning failed, falling back to local estimate",
		logger.String("url", c.url), logger.String("reason", reason), logger.Error(err))
	return Result{Source: SourceFallback, Response: tuning.LocalEstimate(p, c.now()), Err: err}
}

type fallbackError struct {
	reason string
	err    error
}

func (e *fallbackError) Error() string { return e.err.Error() }
func (e *fallbackError) Unwrap() error { return e.err }

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return reasonTimeout
	}
	var fe *fallbackError
	if errors.As(err, &fe) {
		return fe.reason
	}
	return reasonTransport
}

func (c *Client) post(ctx context.Context, key string, p model.CohortPayload) (model.TuningResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(tuning.NewRequest(p))
	if err != nil {
		return model.TuningResponse{}, &fallbackError{reasonRequest, fmt.Errorf("encode payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return model.TuningResponse{}, &fallbackError{reasonRequest, fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return model.TuningResponse{}, fmt.Errorf("post %s: %w", c.url, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return model.TuningResponse{}, &fallbackError{reasonStatus, fmt.Errorf("%w: %d", ErrStatus, res.StatusCode)}
	}

	var out model.TuningResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.TuningResponse{}, err
		}
		return model.TuningResponse{}, &fallbackError{reasonDecode, fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}
