package crawler

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by ledger and gateway operations.
var (
	// ErrJobNotFound reports that no ledger row exists for the page.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotCancellable reports a cancel against a job that is neither
	// queued nor running.
	ErrNotCancellable = errors.New("job is not cancellable")
	// ErrTitleNotFound reports that the remote source knows no page with
	// the requested title.
	ErrTitleNotFound = errors.New("title not found")
)

// GraphStore persists pages and directed edges.
type GraphStore interface {
	// UpsertPage creates the page or refreshes title/namespace/redirect.
	UpsertPage(ctx context.Context, page Page) error
	GetPage(ctx context.Context, pageID int64) (Page, bool, error)
	// FilterExisting returns the subset of ids present in the store.
	// Edge endpoints must pass this filter before insertion.
	FilterExisting(ctx context.Context, ids []int64) ([]int64, error)
	// InsertEdges inserts directed edges; duplicate pairs are no-ops.
	InsertEdges(ctx context.Context, edges []Edge) error
	// RecomputeDegrees recounts the page's degrees from current edge rows.
	RecomputeDegrees(ctx context.Context, pageID int64) (outDegree, inDegree int, err error)
	Ego(ctx context.Context, pageID int64, limitNeighbors int) (GraphView, error)
	AllNodes(ctx context.Context, limit int) (GraphView, error)
	// ResetAll destructively truncates all graph and job tables.
	ResetAll(ctx context.Context) error
}

// JobLedger is the durable work queue: one row per page, claimed atomically.
type JobLedger interface {
	// Enqueue upserts a job row. A running job keeps its status and
	// started_at; priority always becomes max(old, new).
	Enqueue(ctx context.Context, req EnqueueRequest) error
	// EnqueueAtDegree queues a BFS neighbor unless it is already done or
	// running, or already recorded at a strictly lower degree.
	EnqueueAtDegree(ctx context.Context, pageID int64, degree int, rootPageID int64, requestedBy string) error
	// MarkDiscovered records a known-but-unfetched page at the terminal
	// degree without ever downgrading a better status.
	MarkDiscovered(ctx context.Context, pageID int64, degree int, rootPageID int64, requestedBy string) error
	// ClaimNext sweeps stuck jobs, then atomically claims the highest
	// priority queued job (ties broken oldest-updated-first). Exactly one
	// concurrent caller wins any given row.
	ClaimNext(ctx context.Context) (Job, bool, error)
	GetJob(ctx context.Context, pageID int64) (Job, bool, error)
	// Checkpoint merges a {stage, count} progress update into the cursor,
	// preserving the recorded identity fields.
	Checkpoint(ctx context.Context, pageID int64, stage string, count int) error
	// MarkDone finishes a running job; a job cancelled mid-crawl is left
	// paused, never resurrected.
	MarkDone(ctx context.Context, pageID int64) error
	// MarkError records a truncated failure reason on a running job.
	MarkError(ctx context.Context, pageID int64, reason string) error
	// Cancel pauses a queued or running job; otherwise ErrJobNotFound or
	// ErrNotCancellable.
	Cancel(ctx context.Context, pageID int64) error
	// KillAllRunning bulk-pauses every queued and running job.
	KillAllRunning(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) (JobListing, error)
}

// Gateway fetches link lists and title metadata from the remote source,
// following continuation-token pagination and retrying transient failures.
type Gateway interface {
	GetOutlinks(ctx context.Context, pageID int64, namespaces []int) ([]LinkRef, error)
	GetBacklinks(ctx context.Context, pageID int64, namespaces []int) ([]LinkRef, error)
	ResolveTitle(ctx context.Context, title string) (PageInfo, error)
	// BatchResolveTitles resolves titles in upstream-sized chunks;
	// unresolved titles are omitted from the result, not errors.
	BatchResolveTitles(ctx context.Context, titles []string) (map[string]PageInfo, error)
	GetPageInfo(ctx context.Context, pageID int64) (PageInfo, bool, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
