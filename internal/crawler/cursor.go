package crawler

// CrawlMode tags what kind of work a job's cursor describes.
type CrawlMode string

const (
	// ModeRoot is a degree-zero crawl of a freshly enqueued page; with
	// AutoCrawl set it seeds a degree-bounded BFS.
	ModeRoot CrawlMode = "root"
	// ModeDegree is a continuation at a known hop distance from a BFS root.
	ModeDegree CrawlMode = "degree"
	// ModeSingle is a one-shot, single-direction crawl with no expansion.
	ModeSingle CrawlMode = "single"
)

// Cursor is the mode-tagged configuration/progress payload stored on each
// job row. Identity fields (Mode, LinkDirection, AutoCrawl, Degree,
// RootPageID) describe what the job is; Stage and Count are coarse progress
// checkpoints overwritten as the crawl advances. Degree is a pointer so a
// recorded degree of zero is distinguishable from "never recorded".
type Cursor struct {
	Mode          CrawlMode     `json:"mode,omitempty"`
	LinkDirection LinkDirection `json:"link_direction,omitempty"`
	AutoCrawl     bool          `json:"auto_crawl,omitempty"`
	Degree        *int          `json:"degree,omitempty"`
	RootPageID    int64         `json:"root_page_id,omitempty"`
	Stage         string        `json:"stage,omitempty"`
	Count         int           `json:"count,omitempty"`
}

// RootCursor builds the cursor for a newly enqueued root job.
func RootCursor(pageID int64, direction LinkDirection, autoCrawl bool) Cursor {
	zero := 0
	return Cursor{
		Mode:          ModeRoot,
		LinkDirection: direction,
		AutoCrawl:     autoCrawl,
		Degree:        &zero,
		RootPageID:    pageID,
	}
}

// DegreeCursor builds the cursor for a BFS continuation at the given hop
// distance from rootPageID.
func DegreeCursor(degree int, rootPageID int64) Cursor {
	d := degree
	return Cursor{
		Mode:       ModeDegree,
		Degree:     &d,
		RootPageID: rootPageID,
	}
}

// SingleCursor builds the cursor for a one-shot single-direction crawl.
func SingleCursor(direction LinkDirection) Cursor {
	return Cursor{
		Mode:          ModeSingle,
		LinkDirection: direction,
	}
}

// ProgressCursor builds a checkpoint update carrying only progress fields.
func ProgressCursor(stage string, count int) Cursor {
	return Cursor{Stage: stage, Count: count}
}

// Merge overlays upd onto c. Identity fields already recorded survive
// unless upd sets them; a checkpoint update replaces Stage and Count
// together. This is the single place cursor field preservation happens.
func (c Cursor) Merge(upd Cursor) Cursor {
	out := c
	if upd.Mode != "" {
		out.Mode = upd.Mode
	}
	if upd.LinkDirection != "" {
		out.LinkDirection = upd.LinkDirection
	}
	if upd.AutoCrawl {
		out.AutoCrawl = true
	}
	if upd.Degree != nil {
		out.Degree = upd.Degree
	}
	if upd.RootPageID != 0 {
		out.RootPageID = upd.RootPageID
	}
	if upd.Stage != "" {
		out.Stage = upd.Stage
		out.Count = upd.Count
	}
	return out
}

// DegreeOr returns the recorded degree, or def when none was recorded.
func (c Cursor) DegreeOr(def int) int {
	if c.Degree == nil {
		return def
	}
	return *c.Degree
}
