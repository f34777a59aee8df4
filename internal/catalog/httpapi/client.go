// Package httpapi talks to a catalog gateway that exposes the catalog as JSON
// over HTTP. The gateway owns the device-specific protocol; this package
// only maps its responses and status codes onto the catalog contract.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
)

const userAgent = "catalog-crawler/1.0"

// Config configures the gateway client.
type Config struct {
	BaseURL        string
	Locale         string
	Timezone       string
	Device         string
	Token          string
	GSFID          string
	RequestTimeout time.Duration
	// Delay is the minimum spacing between two requests of one session.
	Delay time.Duration
}

// Client authenticates against the gateway and hands out sessions.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLimiter overrides the per-session request limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{},
		limiter: ratelimit.New(ratelimit.Config{Interval: cfg.Delay, Burst: 1}),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type loginRequest struct {
	Token    string `json:"token"`
	GSFID    string `json:"gsf_id"`
	Locale   string `json:"locale"`
	Timezone string `json:"timezone"`
	Device   string `json:"device"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
}

// Authenticate implements catalog.Authenticator.
func (c *Client) Authenticate(ctx context.Context) (catalog.Session, error) {
	body, err := json.Marshal(loginRequest{
		Token:    c.cfg.Token,
		GSFID:    c.cfg.GSFID,
		Locale:   c.cfg.Locale,
		Timezone: c.cfg.Timezone,
		Device:   c.cfg.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}
	var out loginResponse
	if err := c.doJSON(ctx, "", http.MethodPost, c.endpoint("auth/login", nil), bytes.NewReader(body), &out); err != nil {
		if catalog.IsCanceled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", catalog.ErrLoginFailed, err)
	}
	if out.SessionToken == "" {
		return nil, fmt.Errorf("%w: empty session token", catalog.ErrLoginFailed)
	}
	c.logger.Debug("catalog session established", zap.String("device", c.cfg.Device))
	return &session{client: c, token: out.SessionToken}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = query.Encode()
	return u.String()
}

// pace waits for the session's next request slot.
func (c *Client) pace(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return c.limiter.Wait(ctx, token)
}

func (c *Client) request(ctx context.Context, token, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.cfg.Locale != "" {
		req.Header.Set("Accept-Language", strings.ReplaceAll(c.cfg.Locale, "_", "-"))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(msg))
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, token, method, target string, body io.Reader, out any) error {
	if err := c.pace(ctx, token); err != nil {
		return err
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	resp, err := c.request(ctx, token, method, target, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", target, catalog.ErrMalformedResponse, err)
	}
	return nil
}

// classifyStatus maps gateway status codes onto the catalog taxonomy.
func classifyStatus(code int, body string) error {
	detail := strings.TrimSpace(body)
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", code, catalog.ErrRateLimited)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("status %d: %w", code, catalog.ErrUnauthorized)
	case code == http.StatusNotFound, code == http.StatusGone, code == http.StatusPaymentRequired:
		return fmt.Errorf("status %d %s: %w", code, detail, catalog.ErrNotAvailable)
	case code == http.StatusForbidden && strings.Contains(strings.ToLower(detail), "can't install"):
		return fmt.Errorf("status %d %s: %w", code, detail, catalog.ErrNotAvailable)
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return fmt.Errorf("status %d: %w", code, catalog.ErrTimeout)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, detail)
	}
}

// classifyTransport maps transport failures; a canceled parent context is
// returned untouched so shutdown is not mistaken for a timeout.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", catalog.ErrTimeout, err)
	}
	return fmt.Errorf("transport: %w", err)
}

type session struct {
	client *Client
	token  string
}

func (s *session) ID() string {
	if len(s.token) > 8 {
		return s.token[:8]
	}
	return s.token
}

// Close releases the session's pacing state once it is retired.
func (s *session) Close() error {
	s.client.limiter.Forget(s.token)
	return nil
}

func (s *session) get(ctx context.Context, path string, query url.Values, out any) error {
	return s.client.doJSON(ctx, s.token, http.MethodGet, s.client.endpoint(path, query), nil, out)
}

func cursorQuery(cursor string) url.Values {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

func (s *session) TopChartPage(ctx context.Context, category, chart, cursor string) (catalog.Cluster, error) {
	var out catalog.Cluster
	path := "charts/" + url.PathEscape(category) + "/" + url.PathEscape(chart)
	if err := s.get(ctx, path, cursorQuery(cursor), &out); err != nil {
		return catalog.Cluster{}, fmt.Errorf("top chart %s/%s: %w", category, chart, err)
	}
	return out, nil
}

func (s *session) SearchPage(ctx context.Context, query catalog.SearchQuery) (catalog.SearchPage, error) {
	q := cursorQuery(query.Cursor)
	if query.Cursor == "" {
		q.Set("q", query.Term)
	}
	var out catalog.SearchPage
	if err := s.get(ctx, "search", q, &out); err != nil {
		return catalog.SearchPage{}, fmt.Errorf("search %q: %w", query.Term+query.Cursor, err)
	}
	return out, nil
}

func (s *session) RelatedPage(ctx context.Context, query catalog.RelatedQuery) (catalog.RelatedPage, error) {
	path := "related"
	if query.Cursor == "" {
		path = "items/" + url.PathEscape(query.ItemID) + "/related"
	}
	var out catalog.RelatedPage
	if err := s.get(ctx, path, cursorQuery(query.Cursor), &out); err != nil {
		return catalog.RelatedPage{}, fmt.Errorf("related %s: %w", query.ItemID+query.Cursor, err)
	}
	return out, nil
}

func (s *session) ItemDetail(ctx context.Context, itemID string) (catalog.Detail, error) {
	var raw json.RawMessage
	if err := s.get(ctx, "items/"+url.PathEscape(itemID), nil, &raw); err != nil {
		return catalog.Detail{}, fmt.Errorf("detail %s: %w", itemID, err)
	}
	return catalog.Detail{ItemID: itemID, Raw: raw}, nil
}

type deliveryFile struct {
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	Type        string `json:"type,omitempty"`
	VersionCode int64  `json:"version_code,omitempty"`
	Name        string `json:"name,omitempty"`
}

type delivery struct {
	Primary    deliveryFile   `json:"primary"`
	Expansions []deliveryFile `json:"expansions"`
	Splits     []deliveryFile `json:"splits"`
}

func (s *session) ItemPayload(ctx context.Context, itemID string, opts catalog.PayloadOptions) (catalog.Payload, error) {
	q := url.Values{}
	q.Set("expansions", strconv.FormatBool(opts.Expansions))
	q.Set("splits", strconv.FormatBool(opts.Splits))
	var d delivery
	if err := s.get(ctx, "items/"+url.PathEscape(itemID)+"/delivery", q, &d); err != nil {
		return catalog.Payload{}, fmt.Errorf("delivery %s: %w", itemID, err)
	}
	if d.Primary.URL == "" {
		return catalog.Payload{}, fmt.Errorf("delivery %s: %w: no primary file", itemID, catalog.ErrMalformedResponse)
	}

	var p catalog.Payload
	var err error
	if p.Primary, err = s.open(ctx, d.Primary); err != nil {
		return catalog.Payload{}, fmt.Errorf("download %s: %w", itemID, err)
	}
	if opts.Expansions {
		for _, e := range d.Expansions {
			f, err := s.open(ctx, e)
			if err != nil {
				_ = p.Close()
				return catalog.Payload{}, fmt.Errorf("download %s expansion: %w", itemID, err)
			}
			p.Expansions = append(p.Expansions, catalog.ExpansionFile{Type: e.Type, VersionCode: e.VersionCode, File: f})
		}
	}
	if opts.Splits {
		for _, sp := range d.Splits {
			f, err := s.open(ctx, sp)
			if err != nil {
				_ = p.Close()
				return catalog.Payload{}, fmt.Errorf("download %s split: %w", itemID, err)
			}
			p.Splits = append(p.Splits, catalog.SplitFile{Name: sp.Name, File: f})
		}
	}
	return p, nil
}

// open starts streaming a file; the body is owned by the caller.
func (s *session) open(ctx context.Context, f deliveryFile) (catalog.File, error) {
	target := f.URL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = s.client.endpoint(strings.TrimLeft(target, "/"), nil)
	}
	if err := s.client.pace(ctx, s.token); err != nil {
		return catalog.File{}, err
	}
	resp, err := s.client.request(ctx, s.token, http.MethodGet, target, nil)
	if err != nil {
		return catalog.File{}, err
	}
	size := f.Size
	if size == 0 {
		size = resp.ContentLength
	}
	return catalog.File{Body: resp.Body, Size: size}, nil
}
