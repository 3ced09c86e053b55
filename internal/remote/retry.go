package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a SourceClient with automatic retry on transient errors.
type RetryClient struct {
	inner  SourceClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given SourceClient.
func NewRetryClient(inner SourceClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// IsTransient returns true for errors that are worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.IsAuth() {
			return false
		}
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests ||
			re.Code == "maxlag" || re.Code == "ratelimited" || re.Code == "readonly"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// IsAuthError reports whether err is an authorization rejection.
func IsAuthError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.IsAuth()
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// Sleep waits for the given duration or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := Sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate all SourceClient methods through retry logic ---

func (rc *RetryClient) Query(ctx context.Context, params map[string]string) (resp *QueryResponse, err error) {
	err = rc.retry(ctx, "query", func() error {
		resp, err = rc.inner.Query(ctx, params)
		return err
	})
	return
}

func (rc *RetryClient) FetchRevision(ctx context.Context, revID int64) (rev *models.RemoteRevision, err error) {
	err = rc.retry(ctx, "fetch revision", func() error {
		rev, err = rc.inner.FetchRevision(ctx, revID)
		return err
	})
	return
}

func (rc *RetryClient) UserByID(ctx context.Context, userID int64) (info *UserInfo, err error) {
	err = rc.retry(ctx, "lookup user", func() error {
		info, err = rc.inner.UserByID(ctx, userID)
		return err
	})
	return
}

func (rc *RetryClient) Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error) {
	// Downloads are retried by the file transfer loop, which also verifies
	// checksums between attempts.
	return rc.inner.Download(ctx, rawURL, header)
}
