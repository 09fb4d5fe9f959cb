package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-watch-listings/config"
)

// DefaultHeaders are sent with every listing request in addition to the user agent.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":   "no-cache",
}

// Scraper fetches listing pages with a shared colly collector.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics
}

// NewScraper builds a scraper configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Scraper{
		cfg:       cfg,
		collector: collector,
		Metrics:   NewMetrics(),
	}, nil
}

// Fetch issues a GET for rawURL and returns the response body. Failed attempts are
// retried up to cfg.MaxRetries times when the failure looks transient.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt)
			slog.Debug("retrying fetch",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			s.Metrics.IncRetries()
			if err := sleep(ctx, delay); err != nil {
				return "", &FetchError{URL: rawURL, Err: err}
			}
		}

		body, err := s.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (s *Scraper) fetchOnce(ctx context.Context, rawURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	c := s.collector.Clone()

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range DefaultHeaders {
			r.Headers.Set(k, v)
		}
		r.Ctx.Put("start", time.Now())
		s.Metrics.IncRequest("started")
	})

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
		s.Metrics.IncRequest("completed")
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if ctx.Err() != nil {
		return "", &FetchError{URL: rawURL, Err: ctx.Err()}
	}

	if fetchErr != nil || statusCode >= http.StatusBadRequest {
		classified := classifyError(fetchErr, statusCode)
		category := errorTypeLabel(classified)
		s.Metrics.IncError(category)
		slog.Error("fetch failed",
			slog.String("url", rawURL),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", fetchErr),
		)
		return "", &FetchError{URL: rawURL, StatusCode: statusCode, Err: classified}
	}

	slog.Debug("fetched page",
		slog.String("url", rawURL),
		slog.Int("status", statusCode),
		slog.Int("bytes", len(body)),
	)
	return string(body), nil
}

func (s *Scraper) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := s.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := s.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
		return wrapped
	}

	return err
}

func isRetryable(err error) bool {
	switch errorTypeLabel(err) {
	case "timeout", "connection", "rate_limited", "server":
		return true
	default:
		return false
	}
}
