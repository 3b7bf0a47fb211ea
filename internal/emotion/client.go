package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a remote classifier.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int

	// RetryInitial is the first backoff interval; zero keeps the library default.
	RetryInitial time.Duration

	// RequestsPerMinute caps outgoing requests, retries included. Zero means
	// unlimited.
	RequestsPerMinute int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// transport is the HTTP plumbing shared by the remote providers.
type transport struct {
	provider   string
	http       *http.Client
	maxRetries int
	initial    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newTransport(provider string, opts Options) transport {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.L().Named("emotion")
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return transport{
		provider:   provider,
		http:       hc,
		maxRetries: opts.MaxRetries,
		initial:    opts.RetryInitial,
		limiter:    limiter,
		logger:     logger.With(zap.String("provider", provider)),
	}
}

// postJSON sends payload and decodes a 200 reply into out. Rate limits and
// server errors are retried with exponential backoff; anything else fails
// immediately.
func (t transport) postJSON(ctx context.Context, url string, header http.Header, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("emotion [%s]: encode request: %w", t.provider, err)
	}

	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		if t.initial > 0 {
			ebo.InitialInterval = t.initial
		}
		ebo.Reset()
		if t.maxRetries >= 0 {
			return backoff.WithMaxRetries(ebo, uint64(t.maxRetries))
		}
		return ebo
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := t.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("emotion [%s]: rate limit: %w", t.provider, err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := t.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			t.logger.Debug("request failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			apiErr := t.parseError(resp)
			if apiErr.IsRetryable() {
				t.logger.Debug("retryable status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("emotion [%s]: decode response: %w", t.provider, err))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

func (t transport) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string      `json:"message"`
			Code    interface{} `json:"code"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != nil {
			code = fmt.Sprint(errResp.Error.Code)
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   t.provider,
	}
}
