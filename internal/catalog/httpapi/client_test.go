package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type gateway struct {
	logins atomic.Int32
	status map[string]int
}

func (g *gateway) router(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body loginRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		g.logins.Add(1)
		_ = json.NewEncoder(w).Encode(loginResponse{SessionToken: "tok-" + body.Device + "-session"})
	})
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/charts/{category}/{chart}", func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Query().Get("cursor") == "p2" {
				_ = json.NewEncoder(w).Encode(catalog.Cluster{Items: []string{"c"}})
				return
			}
			_ = json.NewEncoder(w).Encode(catalog.Cluster{Items: []string{chi.URLParam(req, "category"), "b"}, NextCursor: "p2"})
		})
		r.Get("/search", func(w http.ResponseWriter, req *http.Request) {
			if code := g.status["search:"+req.URL.Query().Get("q")]; code != 0 {
				w.WriteHeader(code)
				return
			}
			_ = json.NewEncoder(w).Encode(catalog.SearchPage{Clusters: []catalog.Cluster{{Items: []string{"x." + req.URL.Query().Get("q")}}}})
		})
		r.Get("/items/{id}/related", func(w http.ResponseWriter, req *http.Request) {
			_ = json.NewEncoder(w).Encode(catalog.RelatedPage{Streams: []catalog.Cluster{{Title: "similar", Items: []string{"r1"}, NextCursor: "more"}}})
		})
		r.Get("/related", func(w http.ResponseWriter, req *http.Request) {
			_ = json.NewEncoder(w).Encode(catalog.RelatedPage{Streams: []catalog.Cluster{{Items: []string{"r2"}}}})
		})
		r.Get("/items/{id}", func(w http.ResponseWriter, req *http.Request) {
			switch chi.URLParam(req, "id") {
			case "missing":
				w.WriteHeader(http.StatusNotFound)
			case "broken":
				_, _ = w.Write([]byte("{not json"))
			case "slow":
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte(`{}`))
			default:
				_, _ = w.Write([]byte(`{"title":"App"}`))
			}
		})
		r.Get("/items/{id}/delivery", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") == "paid" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("Can't install. Item is not purchased"))
				return
			}
			d := delivery{Primary: deliveryFile{URL: "/files/main"}}
			if req.URL.Query().Get("expansions") == "true" {
				d.Expansions = []deliveryFile{{URL: "/files/obb", Type: "main", VersionCode: 7}}
			}
			if req.URL.Query().Get("splits") == "true" {
				d.Splits = []deliveryFile{{URL: "/files/split", Name: "config.en"}}
			}
			_ = json.NewEncoder(w).Encode(d)
		})
		r.Get("/files/{name}", func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte("bytes-" + chi.URLParam(req, "name")))
		})
	})
	return r
}

func newTestClient(t *testing.T, g *gateway, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(g.router(t))
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.Token == "" {
		cfg.Token = "secret"
	}
	cfg.Device = "px_3a"
	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestClient_Authenticate(t *testing.T) {
	t.Parallel()

	g := &gateway{}
	client := newTestClient(t, g, Config{})
	sess, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-px_3", sess.ID())
	assert.Equal(t, int32(1), g.logins.Load())
}

func TestClient_AuthenticateFailure(t *testing.T) {
	t.Parallel()

	g := &gateway{}
	srv := httptest.NewServer(g.router(t))
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background())
	require.ErrorIs(t, err, catalog.ErrLoginFailed)
	require.ErrorIs(t, err, catalog.ErrUnauthorized)
}

func TestSession_Pages(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &gateway{}, Config{})
	ctx := context.Background()
	sess, err := client.Authenticate(ctx)
	require.NoError(t, err)

	first, err := sess.TopChartPage(ctx, "GAME", "apps_topgrossing", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"GAME", "b"}, first.Items)
	assert.Equal(t, "p2", first.NextCursor)

	next, err := sess.TopChartPage(ctx, "GAME", "apps_topgrossing", first.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, next.Items)

	page, err := sess.SearchPage(ctx, catalog.SearchQuery{Term: "ab"})
	require.NoError(t, err)
	require.Len(t, page.Clusters, 1)
	assert.Equal(t, []string{"x.ab"}, page.Clusters[0].Items)

	rel, err := sess.RelatedPage(ctx, catalog.RelatedQuery{ItemID: "A"})
	require.NoError(t, err)
	require.Len(t, rel.Streams, 1)
	assert.Equal(t, "more", rel.Streams[0].NextCursor)

	rel, err = sess.RelatedPage(ctx, catalog.RelatedQuery{Cursor: "more"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, rel.Streams[0].Items)
}

func TestSession_ErrorClassification(t *testing.T) {
	t.Parallel()

	g := &gateway{status: map[string]int{
		"search:limited": http.StatusTooManyRequests,
		"search:expired": http.StatusUnauthorized,
		"search:boom":    http.StatusInternalServerError,
	}}
	client := newTestClient(t, g, Config{RequestTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	sess, err := client.Authenticate(ctx)
	require.NoError(t, err)

	_, err = sess.SearchPage(ctx, catalog.SearchQuery{Term: "limited"})
	assert.ErrorIs(t, err, catalog.ErrRateLimited)
	_, err = sess.SearchPage(ctx, catalog.SearchQuery{Term: "expired"})
	assert.ErrorIs(t, err, catalog.ErrUnauthorized)
	_, err = sess.SearchPage(ctx, catalog.SearchQuery{Term: "boom"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, catalog.ErrTimeout)

	_, err = sess.ItemDetail(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrNotAvailable)
	_, err = sess.ItemDetail(ctx, "broken")
	assert.ErrorIs(t, err, catalog.ErrMalformedResponse)
	_, err = sess.ItemDetail(ctx, "slow")
	assert.ErrorIs(t, err, catalog.ErrTimeout)
	_, err = sess.ItemPayload(ctx, "paid", catalog.PayloadOptions{})
	assert.ErrorIs(t, err, catalog.ErrNotAvailable)
}

func TestSession_CanceledContextIsNotTimeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &gateway{}, Config{})
	sess, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.ItemDetail(ctx, "slow")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, catalog.ErrTimeout)
}

func TestSession_ItemDetailAndPayload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &gateway{}, Config{})
	ctx := context.Background()
	sess, err := client.Authenticate(ctx)
	require.NoError(t, err)

	detail, err := sess.ItemDetail(ctx, "com.example")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"App"}`, string(detail.Raw))

	payload, err := sess.ItemPayload(ctx, "com.example", catalog.PayloadOptions{Expansions: true, Splits: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = payload.Close() })

	body, err := io.ReadAll(payload.Primary.Body)
	require.NoError(t, err)
	assert.Equal(t, "bytes-main", string(body))
	require.Len(t, payload.Expansions, 1)
	assert.Equal(t, "main", payload.Expansions[0].Type)
	assert.Equal(t, int64(7), payload.Expansions[0].VersionCode)
	require.Len(t, payload.Splits, 1)
	assert.Equal(t, "config.en", payload.Splits[0].Name)
}

func TestSession_CloseForgetsPacing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &gateway{}, Config{Delay: time.Millisecond})
	ctx := context.Background()
	sess, err := client.Authenticate(ctx)
	require.NoError(t, err)
	_, err = sess.ItemDetail(ctx, "com.example")
	require.NoError(t, err)
	require.Equal(t, 1, client.limiter.Len())

	closer, ok := sess.(io.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close())
	assert.Equal(t, 0, client.limiter.Len())
}
