package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

type fakeLedger struct {
	crawler.JobLedger

	enqueued  []crawler.EnqueueRequest
	cancelErr error
	killed    int64
	listing   crawler.JobListing
	listErr   error
}

func (l *fakeLedger) Enqueue(_ context.Context, req crawler.EnqueueRequest) error {
	l.enqueued = append(l.enqueued, req)
	return nil
}

func (l *fakeLedger) Cancel(context.Context, int64) error { return l.cancelErr }

func (l *fakeLedger) KillAllRunning(context.Context) (int64, error) { return l.killed, nil }

func (l *fakeLedger) List(context.Context, int, int) (crawler.JobListing, error) {
	return l.listing, l.listErr
}

type fakeGraph struct {
	crawler.GraphStore

	pages []crawler.Page
	reset bool
	ego   crawler.GraphView
}

func (g *fakeGraph) UpsertPage(_ context.Context, p crawler.Page) error {
	g.pages = append(g.pages, p)
	return nil
}

func (g *fakeGraph) Ego(context.Context, int64, int) (crawler.GraphView, error) {
	return g.ego, nil
}

func (g *fakeGraph) AllNodes(context.Context, int) (crawler.GraphView, error) {
	return g.ego, nil
}

func (g *fakeGraph) ResetAll(context.Context) error {
	g.reset = true
	return nil
}

type fakeGateway struct {
	crawler.Gateway

	resolved map[string]crawler.PageInfo
}

func (g *fakeGateway) ResolveTitle(_ context.Context, title string) (crawler.PageInfo, error) {
	info, ok := g.resolved[title]
	if !ok {
		return crawler.PageInfo{}, fmt.Errorf("resolve %q: %w", title, crawler.ErrTitleNotFound)
	}
	return info, nil
}

type fakeEstimator struct {
	br  crawler.BlastRadius
	err error
}

func (e *fakeEstimator) Estimate(context.Context, string) (crawler.BlastRadius, error) {
	return e.br, e.err
}

type testServer struct {
	*Server
	ledger  *fakeLedger
	graph   *fakeGraph
	stopped *atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := &fakeLedger{}
	graph := &fakeGraph{}
	gw := &fakeGateway{resolved: map[string]crawler.PageInfo{
		"Go (programming language)": {PageID: 12345, Title: "Go (programming language)", Namespace: 0},
	}}
	est := &fakeEstimator{br: crawler.BlastRadius{Title: "Go (programming language)", RootPageID: 12345}}
	stopped := &atomic.Bool{}
	srv := NewServer(ledger, graph, gw, est, func() { stopped.Store(true) }, zap.NewNop())
	return &testServer{Server: srv, ledger: ledger, graph: graph, stopped: stopped}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueResolvesAndQueues(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/enqueue", map[string]any{
		"title":      "Go (programming language)",
		"auto_crawl": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, ts.graph.pages, 1)
	require.Equal(t, int64(12345), ts.graph.pages[0].PageID)

	require.Len(t, ts.ledger.enqueued, 1)
	req := ts.ledger.enqueued[0]
	require.Equal(t, int64(12345), req.PageID)
	require.Equal(t, "api", req.RequestedBy)
	require.Equal(t, crawler.ModeRoot, req.Cursor.Mode)
	require.True(t, req.Cursor.AutoCrawl)
	require.Equal(t, crawler.DirectionBoth, req.Cursor.LinkDirection)
}

func TestEnqueueUnknownTitle(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/enqueue", map[string]any{
		"title": "No such page",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, ts.ledger.enqueued)
}

func TestEnqueueRejectsBadDirection(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/enqueue", map[string]any{
		"title":          "Go (programming language)",
		"link_direction": "sideways",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelNotFoundAndConflict(t *testing.T) {
	ts := newTestServer(t)

	ts.ledger.cancelErr = crawler.ErrJobNotFound
	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/jobs/42/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	ts.ledger.cancelErr = crawler.ErrNotCancellable
	rec = doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/jobs/42/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	ts.ledger.cancelErr = nil
	rec = doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/jobs/42/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestKillAllReportsCount(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.killed = 3

	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/jobs/kill-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp["killed"])
}

func TestStopCrawler(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodPost, "/api/admin/crawler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ts.stopped.Load())
}

func TestResetData(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodDelete, "/api/admin/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ts.graph.reset)
}

func TestBlastRadiusRequiresTitle(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodGet, "/api/admin/blast-radius", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, ts.Handler(), http.MethodGet, "/api/admin/blast-radius?title=Go+(programming+language)", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var br crawler.BlastRadius
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &br))
	require.Equal(t, int64(12345), br.RootPageID)
}

func TestEgoGraphValidatesPageID(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodGet, "/api/graph/ego?page_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, ts.Handler(), http.MethodGet, "/api/graph/ego?page_id=42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSON(t, ts.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.listing = crawler.JobListing{
		Jobs: []crawler.JobSummary{
			{Job: crawler.Job{PageID: 1, Status: crawler.JobStatusRunning}, Title: "Alpha"},
		},
		Counts: map[crawler.JobStatus]int{crawler.JobStatusRunning: 1},
	}

	rec := doJSON(t, ts.Handler(), http.MethodGet, "/api/admin/jobs/?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing crawler.JobListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Jobs, 1)
	require.Equal(t, "Alpha", listing.Jobs[0].Title)
}
