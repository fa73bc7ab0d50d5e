// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job ledger.
const (
	JobStatusDiscovered JobStatus = "discovered"
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
	JobStatusPaused     JobStatus = "paused"
)

// LinkDirection selects which side of the link graph a crawl follows.
type LinkDirection string

const (
	DirectionOutbound LinkDirection = "outbound"
	DirectionInbound  LinkDirection = "inbound"
	DirectionBoth     LinkDirection = "both"
)

// Page is one node of the link graph. Degree counters are recomputed from
// edge rows after each crawl of the page, not maintained incrementally.
type Page struct {
	PageID     int64  `json:"page_id"`
	Title      string `json:"title"`
	Namespace  int    `json:"namespace"`
	IsRedirect bool   `json:"is_redirect"`
	OutDegree  int    `json:"out_degree"`
	InDegree   int    `json:"in_degree"`
}

// Edge is a directed link between two pages already present in the store.
type Edge struct {
	FromPageID int64 `json:"from"`
	ToPageID   int64 `json:"to"`
}

// Job is the singleton crawl-job row for one page.
type Job struct {
	PageID      int64      `json:"page_id"`
	Status      JobStatus  `json:"status"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Priority    int        `json:"priority"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Cursor      Cursor     `json:"cursor"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EnqueueRequest carries everything needed to upsert a root or re-crawl job.
type EnqueueRequest struct {
	PageID      int64
	RequestedBy string
	Priority    int
	Cursor      Cursor
}

// JobSummary is a ledger row joined with its page metadata for listings.
type JobSummary struct {
	Job
	Title     string `json:"title"`
	OutDegree int    `json:"out_degree"`
	InDegree  int    `json:"in_degree"`
}

// JobListing is one page of jobs plus aggregate status counts.
type JobListing struct {
	Jobs   []JobSummary      `json:"jobs"`
	Counts map[JobStatus]int `json:"counts"`
}

// LinkRef is a {title, namespace} pair returned by the remote source before
// title resolution.
type LinkRef struct {
	Title     string
	Namespace int
}

// PageInfo is the resolved identity of a title, redirects already followed.
type PageInfo struct {
	PageID     int64  `json:"page_id"`
	Title      string `json:"title"`
	Namespace  int    `json:"namespace"`
	IsRedirect bool   `json:"is_redirect"`
}

// GraphNode is a page row in a graph query response.
type GraphNode struct {
	Page
	IsCenter bool `json:"is_center"`
}

// GraphView is the response of the ego and all-nodes graph queries: the
// selected nodes plus the edges induced between them.
type GraphView struct {
	CenterPageID int64       `json:"center_page_id"`
	Nodes        []GraphNode `json:"nodes"`
	Edges        []Edge      `json:"edges"`
}

// BlastRadius is the dry-run crawl size estimate for a prospective root.
type BlastRadius struct {
	Title                string `json:"title"`
	RootPageID           int64  `json:"root_page_id"`
	FirstDegreeToCrawl   int    `json:"first_degree_to_crawl"`
	SampledPages         int    `json:"sampled_pages"`
	SecondDegreeEstimate int    `json:"second_degree_estimate"`
	EstimatedTotalPages  int    `json:"estimated_total_pages"`
}
