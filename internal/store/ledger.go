package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

// maxErrorLen caps last_error; longer reasons are truncated.
const maxErrorLen = 5000

const enqueueSQL = `
insert into page_fetch (page_id, status, requested_by, priority, last_cursor, updated_at)
values ($1, 'queued', $2, $3, $4, now())
on conflict (page_id) do update set
	status = case when page_fetch.status = 'running' then page_fetch.status else 'queued' end,
	requested_by = coalesce(nullif(excluded.requested_by, ''), page_fetch.requested_by),
	priority = greatest(page_fetch.priority, excluded.priority),
	last_cursor = excluded.last_cursor,
	started_at = case when page_fetch.status = 'running' then page_fetch.started_at else null end,
	finished_at = case when page_fetch.status = 'running' then page_fetch.finished_at else null end,
	last_error = case when page_fetch.status = 'running' then page_fetch.last_error else null end,
	updated_at = now()`

// Enqueue upserts a root or re-crawl job. A running job is never
// interrupted: its status, started_at and error fields are left alone and
// only the priority can rise.
func (s *Store) Enqueue(ctx context.Context, req crawler.EnqueueRequest) error {
	cursorJSON, err := encodeCursor(req.Cursor)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, enqueueSQL, req.PageID, req.RequestedBy, req.Priority, cursorJSON); err != nil {
		return fmt.Errorf("enqueue page %d: %w", req.PageID, err)
	}
	return nil
}

// EnqueueAtDegree queues a BFS neighbor under the best-known-state rule:
// done and running are never touched, and a recording at a strictly lower
// degree is never overwritten by a farther one.
func (s *Store) EnqueueAtDegree(ctx context.Context, pageID int64, degree int, rootPageID int64, requestedBy string) error {
	return s.upsertNeighbor(ctx, pageID, degree, rootPageID, requestedBy, crawler.JobStatusQueued)
}

// MarkDiscovered records a terminal-degree neighbor as known but unfetched.
// It never downgrades done, running or queued, and keeps the closer of two
// discovered recordings.
func (s *Store) MarkDiscovered(ctx context.Context, pageID int64, degree int, rootPageID int64, requestedBy string) error {
	return s.upsertNeighbor(ctx, pageID, degree, rootPageID, requestedBy, crawler.JobStatusDiscovered)
}

func (s *Store) upsertNeighbor(ctx context.Context, pageID int64, degree int, rootPageID int64, requestedBy string, target crawler.JobStatus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin neighbor upsert: %w", err)
	}
	defer rollback(ctx, tx)

	var status string
	var cursorJSON []byte
	err = tx.QueryRow(ctx,
		`select status, last_cursor from page_fetch where page_id = $1 for update`, pageID,
	).Scan(&status, &cursorJSON)
	switch {
	case isNoRows(err):
		insertCursor, encErr := encodeCursor(crawler.DegreeCursor(degree, rootPageID))
		if encErr != nil {
			return encErr
		}
		if _, err := tx.Exec(ctx,
			`insert into page_fetch (page_id, status, requested_by, priority, last_cursor, updated_at)
			 values ($1, $2, $3, 0, $4, now())`,
			pageID, string(target), requestedBy, insertCursor); err != nil {
			return fmt.Errorf("insert neighbor %d: %w", pageID, err)
		}
	case err != nil:
		return fmt.Errorf("lock neighbor %d: %w", pageID, err)
	default:
		existing := crawler.JobStatus(status)
		if !neighborUpgradable(existing, target) {
			return tx.Commit(ctx)
		}
		cur := decodeCursor(cursorJSON)
		if cur.Degree != nil && *cur.Degree <= degree && existing == target {
			// Same or closer recording already in place.
			return tx.Commit(ctx)
		}
		if cur.Degree != nil && *cur.Degree < degree {
			// Closer discoveries win even across a status promotion.
			return tx.Commit(ctx)
		}
		merged, encErr := encodeCursor(cur.Merge(crawler.DegreeCursor(degree, rootPageID)))
		if encErr != nil {
			return encErr
		}
		if _, err := tx.Exec(ctx,
			`update page_fetch
			 set status = $2,
			     requested_by = coalesce(nullif($3, ''), requested_by),
			     last_cursor = $4,
			     finished_at = null,
			     last_error = null,
			     updated_at = now()
			 where page_id = $1`,
			pageID, string(target), requestedBy, merged); err != nil {
			return fmt.Errorf("update neighbor %d: %w", pageID, err)
		}
	}
	return tx.Commit(ctx)
}

// neighborUpgradable reports whether an automatic neighbor recording may
// replace the existing status. Queued beats discovered; done and running
// beat everything; error and paused may be re-queued by a fresh discovery
// but never silently demoted to discovered.
func neighborUpgradable(existing, target crawler.JobStatus) bool {
	if existing == crawler.JobStatusDone || existing == crawler.JobStatusRunning {
		return false
	}
	if target == crawler.JobStatusDiscovered {
		return existing == crawler.JobStatusDiscovered
	}
	return true
}

const sweepSQL = `
update page_fetch
set status = 'error',
    last_error = 'job stuck in running state beyond staleness threshold',
    updated_at = now()
where status = 'running'
  and started_at is not null
  and started_at < now() - $1::interval`

const claimSQL = `
update page_fetch
set status = 'running',
    started_at = coalesce(started_at, now()),
    last_error = null,
    updated_at = now()
where page_id = (
	select page_id from page_fetch
	where status = 'queued'
	order by priority desc, updated_at asc
	limit 1
	for update skip locked
)
returning page_id, status, requested_by, priority, started_at, finished_at, last_error, last_cursor, updated_at`

// ClaimNext sweeps stuck jobs, then atomically claims the single highest
// priority queued job (ties broken oldest-updated-first). The locking read
// skips rows already locked by a concurrent claimer, so exactly one caller
// wins any given row.
func (s *Store) ClaimNext(ctx context.Context) (crawler.Job, bool, error) {
	stale := pgtype.Interval{Microseconds: s.stuckAfter.Microseconds(), Valid: true}
	if _, err := s.db.Exec(ctx, sweepSQL, stale); err != nil {
		return crawler.Job{}, false, fmt.Errorf("stuck job sweep: %w", err)
	}

	job, err := scanJob(s.db.QueryRow(ctx, claimSQL))
	if err != nil {
		if isNoRows(err) {
			return crawler.Job{}, false, nil
		}
		return crawler.Job{}, false, fmt.Errorf("claim next job: %w", err)
	}
	return job, true, nil
}

// GetJob fetches one ledger row; the second return reports existence.
func (s *Store) GetJob(ctx context.Context, pageID int64) (crawler.Job, bool, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`select page_id, status, requested_by, priority, started_at, finished_at, last_error, last_cursor, updated_at
		 from page_fetch where page_id = $1`, pageID))
	if err != nil {
		if isNoRows(err) {
			return crawler.Job{}, false, nil
		}
		return crawler.Job{}, false, fmt.Errorf("get job %d: %w", pageID, err)
	}
	return job, true, nil
}

// Checkpoint merges a {stage, count} progress update into the job cursor.
// Identity fields recorded earlier (mode, direction, degree, root) survive.
func (s *Store) Checkpoint(ctx context.Context, pageID int64, stage string, count int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer rollback(ctx, tx)

	var cursorJSON []byte
	err = tx.QueryRow(ctx,
		`select last_cursor from page_fetch where page_id = $1 for update`, pageID,
	).Scan(&cursorJSON)
	if err != nil {
		if isNoRows(err) {
			return crawler.ErrJobNotFound
		}
		return fmt.Errorf("lock job %d: %w", pageID, err)
	}

	merged, err := encodeCursor(decodeCursor(cursorJSON).Merge(crawler.ProgressCursor(stage, count)))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`update page_fetch set last_cursor = $2, updated_at = now() where page_id = $1`,
		pageID, merged); err != nil {
		return fmt.Errorf("checkpoint job %d: %w", pageID, err)
	}
	return tx.Commit(ctx)
}

// MarkDone finishes a running job. The status guard keeps a job paused or
// swept mid-crawl from being resurrected to done.
func (s *Store) MarkDone(ctx context.Context, pageID int64) error {
	_, err := s.db.Exec(ctx,
		`update page_fetch
		 set status = 'done', finished_at = now(), updated_at = now()
		 where page_id = $1 and status = 'running'`, pageID)
	if err != nil {
		return fmt.Errorf("mark job %d done: %w", pageID, err)
	}
	return nil
}

// MarkError records a failure reason, truncated, on a running job.
func (s *Store) MarkError(ctx context.Context, pageID int64, reason string) error {
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	_, err := s.db.Exec(ctx,
		`update page_fetch
		 set status = 'error', last_error = $2, updated_at = now()
		 where page_id = $1 and status = 'running'`, pageID, reason)
	if err != nil {
		return fmt.Errorf("mark job %d error: %w", pageID, err)
	}
	return nil
}

// Cancel pauses a queued or running job. Other states report
// ErrJobNotFound or ErrNotCancellable.
func (s *Store) Cancel(ctx context.Context, pageID int64) error {
	tag, err := s.db.Exec(ctx,
		`update page_fetch
		 set status = 'paused', last_error = 'cancelled by operator', updated_at = now()
		 where page_id = $1 and status in ('queued', 'running')`, pageID)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", pageID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, found, err := s.GetJob(ctx, pageID)
	if err != nil {
		return err
	}
	if !found {
		return crawler.ErrJobNotFound
	}
	return crawler.ErrNotCancellable
}

// KillAllRunning bulk-pauses every queued and running job and returns the
// number of jobs affected.
func (s *Store) KillAllRunning(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`update page_fetch
		 set status = 'paused', last_error = 'stopped by operator', updated_at = now()
		 where status in ('queued', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("kill all running: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listJobsSQL = `
select pf.page_id, pf.status, pf.requested_by, pf.priority, pf.started_at, pf.finished_at,
       pf.last_error, pf.last_cursor, pf.updated_at,
       coalesce(p.title, ''), coalesce(p.out_degree, 0), coalesce(p.in_degree, 0)
from page_fetch pf
left join pages p on p.page_id = pf.page_id
order by
	case pf.status
		when 'running' then 0
		when 'queued' then 1
		when 'error' then 2
		when 'paused' then 3
		when 'discovered' then 4
		else 5
	end,
	pf.priority desc,
	case when pf.status = 'done' then pf.finished_at end asc,
	pf.updated_at desc
limit $1 offset $2`

// List returns one page of jobs (active jobs by status-class, priority,
// recency; done jobs by finish time ascending) plus aggregate counts.
func (s *Store) List(ctx context.Context, limit, offset int) (crawler.JobListing, error) {
	rows, err := s.db.Query(ctx, listJobsSQL, limit, offset)
	if err != nil {
		return crawler.JobListing{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	listing := crawler.JobListing{Counts: map[crawler.JobStatus]int{}}
	for rows.Next() {
		var js crawler.JobSummary
		var status string
		var requestedBy, lastError *string
		var cursorJSON []byte
		if err := rows.Scan(
			&js.PageID, &status, &requestedBy, &js.Priority, &js.StartedAt, &js.FinishedAt,
			&lastError, &cursorJSON, &js.UpdatedAt,
			&js.Title, &js.OutDegree, &js.InDegree,
		); err != nil {
			return crawler.JobListing{}, fmt.Errorf("scan job row: %w", err)
		}
		js.Status = crawler.JobStatus(status)
		if requestedBy != nil {
			js.RequestedBy = *requestedBy
		}
		if lastError != nil {
			js.LastError = *lastError
		}
		js.Cursor = decodeCursor(cursorJSON)
		listing.Jobs = append(listing.Jobs, js)
	}
	if err := rows.Err(); err != nil {
		return crawler.JobListing{}, fmt.Errorf("list jobs: %w", err)
	}

	counts, err := s.db.Query(ctx, `select status, count(*) from page_fetch group by status`)
	if err != nil {
		return crawler.JobListing{}, fmt.Errorf("count jobs: %w", err)
	}
	defer counts.Close()
	for counts.Next() {
		var status string
		var n int
		if err := counts.Scan(&status, &n); err != nil {
			return crawler.JobListing{}, fmt.Errorf("scan job count: %w", err)
		}
		listing.Counts[crawler.JobStatus(status)] = n
	}
	if err := counts.Err(); err != nil {
		return crawler.JobListing{}, fmt.Errorf("count jobs: %w", err)
	}
	return listing, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var job crawler.Job
	var status string
	var requestedBy, lastError *string
	var cursorJSON []byte
	if err := row.Scan(
		&job.PageID, &status, &requestedBy, &job.Priority,
		&job.StartedAt, &job.FinishedAt, &lastError, &cursorJSON, &job.UpdatedAt,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if requestedBy != nil {
		job.RequestedBy = *requestedBy
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	job.Cursor = decodeCursor(cursorJSON)
	return job, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
