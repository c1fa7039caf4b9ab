package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"batchmint/pkg/models"
)

// Remote is an HTTP client for a driver sidecar process that owns the actual
// browser session. One sidecar serves exactly one shard.
//
// Endpoints:
//
//	POST   /entries        create the marketplace entry for the record
//	POST   /listings       set price/listing for the record
//	DELETE /entries/{key}  remove the entry
//	POST   /solve          clear a pending anti-automation challenge
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RemoteConfig configures the sidecar client
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // transport-level cap; per-call ctx is still authoritative
}

// NewRemote creates a sidecar client
func NewRemote(cfg RemoteConfig) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Remote{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *Remote) CreateEntry(ctx context.Context, rec *models.Record) error {
	return r.do(ctx, http.MethodPost, "/entries", rec)
}

func (r *Remote) SetListing(ctx context.Context, rec *models.Record) error {
	return r.do(ctx, http.MethodPost, "/listings", rec)
}

func (r *Remote) DeleteEntry(ctx context.Context, rec *models.Record) error {
	return r.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(rec.Key()), nil)
}

// Solve asks the sidecar to invoke its challenge solver
func (r *Remote) Solve(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/solve", nil)
}

func (r *Remote) Close() error { return nil }

func (r *Remote) do(ctx context.Context, method, path string, rec *models.Record) error {
	var body io.Reader
	if rec != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if rec != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("driver call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
}

// statusError maps sidecar status codes onto the classifiable conditions
func statusError(code int, msg string) error {
	var base error
	switch {
	case code == http.StatusConflict:
		base = ErrAlreadySatisfied
	case code == http.StatusLocked:
		base = ErrChallengeBlocked
	case code == http.StatusUnprocessableEntity:
		base = ErrUnsupported
	case code == http.StatusGone:
		base = ErrSessionLost
	case code >= 500:
		base = ErrUnavailable
	default:
		return fmt.Errorf("driver returned status %d: %s", code, msg)
	}
	if msg == "" {
		return fmt.Errorf("%w (status %d)", base, code)
	}
	return fmt.Errorf("%w (status %d): %s", base, code, msg)
}
