// Package crawl drives the degree-bounded traversal of the page graph.
// The orchestrator runs one claimed job end to end: fetch links, resolve
// titles, persist pages and edges, then seed the next ring of jobs.
package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
	"github.com/mthorsley/wikigraph-crawler/internal/metrics"
)

// Config bounds the traversal.
type Config struct {
	// MaxDegree is the last ring that is actually crawled. Neighbors
	// discovered at MaxDegree are recorded but left unfetched.
	MaxDegree int
	// MaxLinksPerPage truncates a page's link list when positive.
	MaxLinksPerPage int
	// Namespaces restricts which link namespaces are followed.
	Namespaces []int
}

// Orchestrator executes crawl jobs against the graph store and ledger.
type Orchestrator struct {
	graph   crawler.GraphStore
	ledger  crawler.JobLedger
	gateway crawler.Gateway
	cfg     Config
	logger  *zap.Logger
}

// New builds an Orchestrator.
func New(graph crawler.GraphStore, ledger crawler.JobLedger, gateway crawler.Gateway, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxDegree <= 0 {
		cfg.MaxDegree = 6
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []int{0}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{graph: graph, ledger: ledger, gateway: gateway, cfg: cfg, logger: logger}
}

// Run processes one claimed job according to its cursor. Root jobs with
// auto-crawl enabled expand into the next ring; degree jobs continue the
// expansion; single jobs crawl only their own page.
func (o *Orchestrator) Run(ctx context.Context, job crawler.Job) error {
	start := time.Now()
	defer func() { metrics.ObserveCrawl(time.Since(start)) }()

	cur := job.Cursor
	logger := o.logger.With(zap.Int64("page_id", job.PageID), zap.String("mode", string(cur.Mode)))

	switch cur.Mode {
	case crawler.ModeRoot:
		if cur.AutoCrawl {
			neighbors, err := o.crawlBoth(ctx, job)
			if err != nil {
				return err
			}
			return o.dispatchNeighbors(ctx, job, neighbors)
		}
		return o.crawlDirections(ctx, job, cur.LinkDirection)
	case crawler.ModeDegree:
		neighbors, err := o.crawlBoth(ctx, job)
		if err != nil {
			return err
		}
		return o.dispatchNeighbors(ctx, job, neighbors)
	case crawler.ModeSingle, "":
		direction := cur.LinkDirection
		if direction == "" {
			direction = crawler.DirectionOutbound
		}
		return o.crawlDirections(ctx, job, direction)
	default:
		logger.Warn("unknown cursor mode, crawling outbound only")
		return o.crawlDirections(ctx, job, crawler.DirectionOutbound)
	}
}

func (o *Orchestrator) crawlDirections(ctx context.Context, job crawler.Job, direction crawler.LinkDirection) error {
	if direction == crawler.DirectionBoth {
		_, err := o.crawlBoth(ctx, job)
		return err
	}
	_, err := o.crawlPage(ctx, job, direction)
	return err
}

// crawlBoth fetches both link directions and returns the union of
// neighbor page ids for dispatch.
func (o *Orchestrator) crawlBoth(ctx context.Context, job crawler.Job) ([]int64, error) {
	out, err := o.crawlPage(ctx, job, crawler.DirectionOutbound)
	if err != nil {
		return nil, err
	}
	in, err := o.crawlPage(ctx, job, crawler.DirectionInbound)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(out)+len(in))
	neighbors := make([]int64, 0, len(out)+len(in))
	for _, id := range out {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			neighbors = append(neighbors, id)
		}
	}
	for _, id := range in {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			neighbors = append(neighbors, id)
		}
	}
	return neighbors, nil
}

// crawlPage runs the staged pipeline for one direction and returns the
// neighbor page ids that were persisted.
func (o *Orchestrator) crawlPage(ctx context.Context, job crawler.Job, direction crawler.LinkDirection) ([]int64, error) {
	if err := o.ensurePage(ctx, job.PageID); err != nil {
		return nil, err
	}

	stage := fmt.Sprintf("fetching_%s_links", direction)
	if err := o.ledger.Checkpoint(ctx, job.PageID, stage, 0); err != nil {
		return nil, err
	}

	var links []crawler.LinkRef
	var err error
	switch direction {
	case crawler.DirectionInbound:
		links, err = o.gateway.GetBacklinks(ctx, job.PageID, o.cfg.Namespaces)
	default:
		links, err = o.gateway.GetOutlinks(ctx, job.PageID, o.cfg.Namespaces)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s links: %w", direction, err)
	}
	if err := o.ledger.Checkpoint(ctx, job.PageID, "links_fetched", len(links)); err != nil {
		return nil, err
	}
	if o.cfg.MaxLinksPerPage > 0 && len(links) > o.cfg.MaxLinksPerPage {
		links = links[:o.cfg.MaxLinksPerPage]
	}

	if err := o.ledger.Checkpoint(ctx, job.PageID, "resolving_titles", len(links)); err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(links))
	seenTitle := make(map[string]struct{}, len(links))
	for _, l := range links {
		if _, ok := seenTitle[l.Title]; ok {
			continue
		}
		seenTitle[l.Title] = struct{}{}
		titles = append(titles, l.Title)
	}
	resolved, err := o.gateway.BatchResolveTitles(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("resolve titles: %w", err)
	}
	if err := o.ledger.Checkpoint(ctx, job.PageID, "titles_resolved", len(resolved)); err != nil {
		return nil, err
	}

	// Titles that fail to resolve are dropped without error. Deleted
	// and invalid pages are common in link lists.
	seenID := make(map[int64]struct{}, len(resolved))
	neighbors := make([]int64, 0, len(resolved))
	for _, info := range resolved {
		if _, ok := seenID[info.PageID]; ok {
			continue
		}
		seenID[info.PageID] = struct{}{}
		if err := o.graph.UpsertPage(ctx, crawler.Page{
			PageID:     info.PageID,
			Title:      info.Title,
			Namespace:  info.Namespace,
			IsRedirect: info.IsRedirect,
		}); err != nil {
			return nil, fmt.Errorf("upsert page %d: %w", info.PageID, err)
		}
		neighbors = append(neighbors, info.PageID)
	}
	metrics.PagesUpserted(len(neighbors))

	if err := o.ledger.Checkpoint(ctx, job.PageID, "inserting_links", len(neighbors)); err != nil {
		return nil, err
	}
	existing, err := o.graph.FilterExisting(ctx, neighbors)
	if err != nil {
		return nil, fmt.Errorf("filter existing pages: %w", err)
	}
	edges := make([]crawler.Edge, 0, len(existing))
	for _, id := range existing {
		if direction == crawler.DirectionInbound {
			edges = append(edges, crawler.Edge{FromPageID: id, ToPageID: job.PageID})
		} else {
			edges = append(edges, crawler.Edge{FromPageID: job.PageID, ToPageID: id})
		}
	}
	if err := o.graph.InsertEdges(ctx, edges); err != nil {
		return nil, fmt.Errorf("insert edges: %w", err)
	}
	metrics.EdgesInserted(len(edges))

	if err := o.ledger.Checkpoint(ctx, job.PageID, "computing_degrees", 0); err != nil {
		return nil, err
	}
	if _, _, err := o.graph.RecomputeDegrees(ctx, job.PageID); err != nil {
		return nil, fmt.Errorf("recompute degrees: %w", err)
	}
	return neighbors, nil
}

// ensurePage guarantees a pages row exists before the job references it.
// A page gone upstream is not an error, the crawl just produces nothing.
func (o *Orchestrator) ensurePage(ctx context.Context, pageID int64) error {
	_, found, err := o.graph.GetPage(ctx, pageID)
	if err != nil {
		return fmt.Errorf("get page %d: %w", pageID, err)
	}
	if found {
		return nil
	}
	info, ok, err := o.gateway.GetPageInfo(ctx, pageID)
	if err != nil {
		return fmt.Errorf("get page info %d: %w", pageID, err)
	}
	if !ok {
		o.logger.Warn("page missing upstream", zap.Int64("page_id", pageID))
		return nil
	}
	return o.graph.UpsertPage(ctx, crawler.Page{
		PageID:     info.PageID,
		Title:      info.Title,
		Namespace:  info.Namespace,
		IsRedirect: info.IsRedirect,
	})
}

// dispatchNeighbors seeds the next ring. Neighbors at the degree bound
// are recorded as discovered instead of queued.
func (o *Orchestrator) dispatchNeighbors(ctx context.Context, job crawler.Job, neighbors []int64) error {
	degree := job.Cursor.DegreeOr(0)
	root := job.Cursor.RootPageID
	if root == 0 {
		root = job.PageID
	}
	next := degree + 1
	requestedBy := fmt.Sprintf("degree_%d_of_%d", next, root)

	enqueued, discovered := 0, 0
	for _, id := range neighbors {
		if id == job.PageID {
			continue
		}
		if degree >= o.cfg.MaxDegree {
			if err := o.ledger.MarkDiscovered(ctx, id, next, root, requestedBy); err != nil {
				return fmt.Errorf("mark discovered %d: %w", id, err)
			}
			discovered++
			continue
		}
		if err := o.ledger.EnqueueAtDegree(ctx, id, next, root, requestedBy); err != nil {
			return fmt.Errorf("enqueue neighbor %d: %w", id, err)
		}
		enqueued++
	}
	o.logger.Info("dispatched next ring",
		zap.Int64("page_id", job.PageID),
		zap.Int("degree", next),
		zap.Int("enqueued", enqueued),
		zap.Int("discovered", discovered),
	)
	return nil
}
