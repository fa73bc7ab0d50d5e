package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

func newTestOrchestrator(graph *fakeGraph, ledger *fakeLedger, gw *fakeGateway, cfg Config) *Orchestrator {
	return New(graph, ledger, gw, cfg, zap.NewNop())
}

func rootJob(pageID int64, autoCrawl bool) crawler.Job {
	return crawler.Job{
		PageID: pageID,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.RootCursor(pageID, crawler.DirectionBoth, autoCrawl),
	}
}

func TestRootCrawlEnqueuesNextRing(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	gw.link(1, 2)
	gw.link(1, 3)
	gw.link(4, 1)

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2})
	require.NoError(t, o.Run(context.Background(), rootJob(1, true)))

	// Pages from both directions are in the store.
	for _, id := range []int64{1, 2, 3, 4} {
		_, ok, err := graph.GetPage(context.Background(), id)
		require.NoError(t, err)
		require.True(t, ok, "page %d missing", id)
	}

	// Outbound edges leave the root, the backlinker's edge points in.
	require.Contains(t, graph.edges, crawler.Edge{FromPageID: 1, ToPageID: 2})
	require.Contains(t, graph.edges, crawler.Edge{FromPageID: 1, ToPageID: 3})
	require.Contains(t, graph.edges, crawler.Edge{FromPageID: 4, ToPageID: 1})

	// All three neighbors are queued at degree 1 under the root.
	require.Len(t, ledger.enqueued, 3)
	for _, rec := range ledger.enqueued {
		require.Equal(t, 1, rec.degree)
		require.Equal(t, int64(1), rec.root)
		require.Equal(t, "degree_1_of_1", rec.requestedBy)
		require.NotEqual(t, int64(1), rec.pageID)
	}
	require.Empty(t, ledger.discovered)
}

func TestDegreeBoundMarksDiscoveredOnly(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	gw.link(5, 6)

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2})
	two := 2
	job := crawler.Job{
		PageID: 5,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.DegreeCursor(two, 1),
	}
	require.NoError(t, o.Run(context.Background(), job))

	require.Empty(t, ledger.enqueued)
	require.Len(t, ledger.discovered, 1)
	require.Equal(t, dispatchRec{pageID: 6, degree: 3, root: 1, requestedBy: "degree_3_of_1"}, ledger.discovered[0])
}

func TestSingleModeSkipsDispatch(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	gw.link(1, 2)

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2})
	job := crawler.Job{
		PageID: 1,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.SingleCursor(crawler.DirectionOutbound),
	}
	require.NoError(t, o.Run(context.Background(), job))

	require.Contains(t, graph.edges, crawler.Edge{FromPageID: 1, ToPageID: 2})
	require.Empty(t, ledger.enqueued)
	require.Empty(t, ledger.discovered)
}

func TestUnresolvedTitlesAreDropped(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	gw.link(1, 2)
	gw.addPage(1)
	gw.outlinks[1] = append(gw.outlinks[1], crawler.LinkRef{Title: "Deleted page", Namespace: 0})
	gw.unresolved["Deleted page"] = struct{}{}

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2})
	job := crawler.Job{
		PageID: 1,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.SingleCursor(crawler.DirectionOutbound),
	}
	require.NoError(t, o.Run(context.Background(), job))

	_, ok, err := graph.GetPage(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, graph.edges, 1)
}

func TestCheckpointStagesRecorded(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	gw.link(1, 2)

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2})
	job := crawler.Job{
		PageID: 1,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.SingleCursor(crawler.DirectionOutbound),
	}
	require.NoError(t, o.Run(context.Background(), job))

	stages := make([]string, len(ledger.checkpoints))
	for i, cp := range ledger.checkpoints {
		stages[i] = cp.stage
	}
	require.Equal(t, []string{
		"fetching_outbound_links",
		"links_fetched",
		"resolving_titles",
		"titles_resolved",
		"inserting_links",
		"computing_degrees",
	}, stages)
}

func TestLinkTruncation(t *testing.T) {
	graph := newFakeGraph()
	ledger := &fakeLedger{}
	gw := newFakeGateway()
	for id := int64(2); id <= 11; id++ {
		gw.link(1, id)
	}

	o := newTestOrchestrator(graph, ledger, gw, Config{MaxDegree: 2, MaxLinksPerPage: 3})
	job := crawler.Job{
		PageID: 1,
		Status: crawler.JobStatusRunning,
		Cursor: crawler.SingleCursor(crawler.DirectionOutbound),
	}
	require.NoError(t, o.Run(context.Background(), job))
	require.Len(t, graph.edges, 3)
}
