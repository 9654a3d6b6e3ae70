package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sensor-harvest/internal/resilience"
)

// HTTPFetcher downloads sensor files over HTTP(S). Requests share a rate
// limiter; 429 and 5xx responses and dropped connections are retried.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options with defaults.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sensor-harvest/1.0"
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries
	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: rate.NewLimiter(5, 5),
		retry:   retry,
	}
}

// get issues req until it yields a response that is not worth retrying.
func (f *HTTPFetcher) get(ctx context.Context, req *http.Request) (*http.Response, error) {
	cfg := f.retry
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: http request failed, retrying",
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			return nil, resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, req.URL.Redacted()))
		}
		return resp, nil
	})
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.Username != "" {
		req.SetBasicAuth(f.opts.Username, f.opts.Password)
	}

	resp, err := f.get(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, req.URL.Redacted())
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return copyToFile(body, path)
}
