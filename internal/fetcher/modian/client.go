// Package modian fetches raw project payloads from the crowdfunding site's
// public endpoints using gocolly.
package modian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/clock/system"
	"github.com/JakeFAU/modian-insight/internal/metrics"
	"github.com/JakeFAU/modian-insight/internal/policy/ratelimit"
	"github.com/JakeFAU/modian-insight/internal/project"
)

// Defaults mirror the browser the public site expects.
const (
	DefaultBaseURL   = "https://zhongchou.modian.com"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"
	DefaultTimeout = 30 * time.Second
)

const (
	endpointLimitStatus = "limit_status"
	endpointDetail      = "detail"
)

// DefaultHeaders returns the request headers sent with every upstream call.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":           {"application/json, text/javascript, */*; q=0.01"},
		"Accept-Language":  {"zh-CN,zh;q=0.9"},
		"Sec-Fetch-Dest":   {"empty"},
		"Sec-Fetch-Mode":   {"cors"},
		"Sec-Fetch-Site":   {"same-origin"},
		"X-Requested-With": {"XMLHttpRequest"},
	}
}

// Clock supplies the timestamps embedded in JSONP callback names.
type Clock interface {
	Now() time.Time
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	BaseURL           string
	UserAgent         string
	Headers           http.Header
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Clock             Clock
	Limiter           Waiter
	Logger            *zap.Logger
}

// Client retrieves raw project payloads.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	clock         Clock
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client, filling unset fields with defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RequestsPerSecond,
			DefaultBurst: cfg.Burst,
		})
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := newHTTPTransport()
	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	// The limit-status probe and the detail call repeat across tasks.
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		clock:         clk,
		logger:        logger.Named("modian"),
	}
}

// LimitStatusURL returns the limit-status endpoint for a project.
func (c *Client) LimitStatusURL(id int64) string {
	return fmt.Sprintf("%s/p/get_project_limit_status?pro_id=%d", c.cfg.BaseURL, id)
}

// DetailURL returns the JSONP detail endpoint for a project at time now.
func (c *Client) DetailURL(id int64, now time.Time) string {
	ts := now.UnixMilli()
	return fmt.Sprintf("%s/realtime/get_simple_product?jsonpcallback=jQuery%d&ids=%d&if_all=1&_=%d",
		c.cfg.BaseURL, ts, id, ts+1)
}

// FetchRawProject performs the limit-status probe followed by the detail call
// and returns the first project object of the JSONP payload.
func (c *Client) FetchRawProject(ctx context.Context, id int64) (json.RawMessage, error) {
	if _, err := c.get(ctx, endpointLimitStatus, c.LimitStatusURL(id)); err != nil {
		return nil, fmt.Errorf("project %d limit status: %w", id, err)
	}
	body, err := c.get(ctx, endpointDetail, c.DetailURL(id, c.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("project %d detail: %w", id, err)
	}
	raw, err := Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("project %d detail: %w", id, err)
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, url); err != nil {
		return nil, fmt.Errorf("%w: %w", project.ErrFetchFailed, err)
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)
	start := time.Now()
	collector := c.buildCollector(ctx, &body, &status, &fetchErr)
	err := c.runCollector(ctx, collector, url, &fetchErr)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveFetch(endpoint, "error", duration)
		c.logger.Debug("upstream request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if status != 0 {
			return nil, fmt.Errorf("%w: http status %d: %w", project.ErrFetchFailed, status, err)
		}
		return nil, fmt.Errorf("%w: %w", project.ErrFetchFailed, err)
	}
	metrics.ObserveFetch(endpoint, "ok", duration)
	return body, nil
}

func (c *Client) buildCollector(ctx context.Context, body *[]byte, status *int, fetchErr *error) *colly.Collector {
	// Clones share the base collector's HTTP backend.
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	// Requests are bound to ctx so a fetch timeout aborts the transfer.
	collector.Context = ctx
	c.configureCollectorHooks(collector, body, status, fetchErr)
	return collector
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, body *[]byte, status *int, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range c.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		r.Headers.Set("Referer", c.cfg.BaseURL+"/")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// IsTimeout reports whether err came from a deadline rather than the upstream.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ParseID parses a decimal project id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
