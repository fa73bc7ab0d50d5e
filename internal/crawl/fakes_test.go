package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

// fakeGraph is an in-memory GraphStore.
type fakeGraph struct {
	mu    sync.Mutex
	pages map[int64]crawler.Page
	edges []crawler.Edge
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{pages: make(map[int64]crawler.Page)}
}

func (g *fakeGraph) UpsertPage(_ context.Context, p crawler.Page) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pages[p.PageID] = p
	return nil
}

func (g *fakeGraph) GetPage(_ context.Context, id int64) (crawler.Page, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pages[id]
	return p, ok, nil
}

func (g *fakeGraph) FilterExisting(_ context.Context, ids []int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.pages[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *fakeGraph) InsertEdges(_ context.Context, edges []crawler.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, edges...)
	return nil
}

func (g *fakeGraph) RecomputeDegrees(_ context.Context, id int64) (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out, in int
	for _, e := range g.edges {
		if e.FromPageID == id {
			out++
		}
		if e.ToPageID == id {
			in++
		}
	}
	return out, in, nil
}

func (g *fakeGraph) Ego(context.Context, int64, int) (crawler.GraphView, error) {
	return crawler.GraphView{}, nil
}

func (g *fakeGraph) AllNodes(context.Context, int) (crawler.GraphView, error) {
	return crawler.GraphView{}, nil
}

func (g *fakeGraph) ResetAll(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pages = make(map[int64]crawler.Page)
	g.edges = nil
	return nil
}

// checkpointRec records one Checkpoint call.
type checkpointRec struct {
	stage string
	count int
}

type dispatchRec struct {
	pageID      int64
	degree      int
	root        int64
	requestedBy string
}

// fakeLedger records ledger calls without persistence.
type fakeLedger struct {
	mu          sync.Mutex
	checkpoints []checkpointRec
	enqueued    []dispatchRec
	discovered  []dispatchRec
}

func (l *fakeLedger) Enqueue(context.Context, crawler.EnqueueRequest) error { return nil }

func (l *fakeLedger) EnqueueAtDegree(_ context.Context, pageID int64, degree int, root int64, requestedBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enqueued = append(l.enqueued, dispatchRec{pageID, degree, root, requestedBy})
	return nil
}

func (l *fakeLedger) MarkDiscovered(_ context.Context, pageID int64, degree int, root int64, requestedBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovered = append(l.discovered, dispatchRec{pageID, degree, root, requestedBy})
	return nil
}

func (l *fakeLedger) ClaimNext(context.Context) (crawler.Job, bool, error) {
	return crawler.Job{}, false, nil
}

func (l *fakeLedger) GetJob(context.Context, int64) (crawler.Job, bool, error) {
	return crawler.Job{}, false, nil
}

func (l *fakeLedger) Checkpoint(_ context.Context, _ int64, stage string, count int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkpoints = append(l.checkpoints, checkpointRec{stage, count})
	return nil
}

func (l *fakeLedger) MarkDone(context.Context, int64) error          { return nil }
func (l *fakeLedger) MarkError(context.Context, int64, string) error { return nil }
func (l *fakeLedger) Cancel(context.Context, int64) error            { return nil }
func (l *fakeLedger) KillAllRunning(context.Context) (int64, error)  { return 0, nil }

func (l *fakeLedger) List(context.Context, int, int) (crawler.JobListing, error) {
	return crawler.JobListing{}, nil
}

// fakeGateway serves canned link lists keyed by page id. Every title
// "Page <n>" resolves to page id n.
type fakeGateway struct {
	outlinks   map[int64][]crawler.LinkRef
	backlinks  map[int64][]crawler.LinkRef
	unresolved map[string]struct{}
	pages      map[int64]crawler.PageInfo
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		outlinks:   make(map[int64][]crawler.LinkRef),
		backlinks:  make(map[int64][]crawler.LinkRef),
		unresolved: make(map[string]struct{}),
		pages:      make(map[int64]crawler.PageInfo),
	}
}

func titleFor(id int64) string { return fmt.Sprintf("Page %d", id) }

func (g *fakeGateway) addPage(id int64) crawler.PageInfo {
	info := crawler.PageInfo{PageID: id, Title: titleFor(id), Namespace: 0}
	g.pages[id] = info
	return info
}

func (g *fakeGateway) link(from, to int64) {
	g.addPage(from)
	info := g.addPage(to)
	ref := crawler.LinkRef{Title: info.Title, Namespace: 0}
	g.outlinks[from] = append(g.outlinks[from], ref)
	g.backlinks[to] = append(g.backlinks[to], crawler.LinkRef{Title: titleFor(from), Namespace: 0})
}

func (g *fakeGateway) GetOutlinks(_ context.Context, pageID int64, _ []int) ([]crawler.LinkRef, error) {
	return g.outlinks[pageID], nil
}

func (g *fakeGateway) GetBacklinks(_ context.Context, pageID int64, _ []int) ([]crawler.LinkRef, error) {
	return g.backlinks[pageID], nil
}

func (g *fakeGateway) ResolveTitle(_ context.Context, title string) (crawler.PageInfo, error) {
	if _, bad := g.unresolved[title]; bad {
		return crawler.PageInfo{}, crawler.ErrTitleNotFound
	}
	for _, info := range g.pages {
		if info.Title == title {
			return info, nil
		}
	}
	return crawler.PageInfo{}, crawler.ErrTitleNotFound
}

func (g *fakeGateway) BatchResolveTitles(ctx context.Context, titles []string) (map[string]crawler.PageInfo, error) {
	out := make(map[string]crawler.PageInfo, len(titles))
	for _, t := range titles {
		info, err := g.ResolveTitle(ctx, t)
		if err != nil {
			continue
		}
		out[info.Title] = info
	}
	return out, nil
}

func (g *fakeGateway) GetPageInfo(_ context.Context, pageID int64) (crawler.PageInfo, bool, error) {
	info, ok := g.pages[pageID]
	return info, ok, nil
}
