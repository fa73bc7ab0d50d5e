package store

import (
	"context"
	"fmt"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

const upsertPageSQL = `
insert into pages (page_id, title, namespace, is_redirect)
values ($1, $2, $3, $4)
on conflict (page_id) do update set
	title = excluded.title,
	namespace = excluded.namespace,
	is_redirect = excluded.is_redirect`

// UpsertPage creates the page or refreshes its title/namespace/redirect
// flag. Degree counters are left to RecomputeDegrees.
func (s *Store) UpsertPage(ctx context.Context, page crawler.Page) error {
	_, err := s.db.Exec(ctx, upsertPageSQL, page.PageID, page.Title, page.Namespace, page.IsRedirect)
	if err != nil {
		return fmt.Errorf("upsert page %d: %w", page.PageID, err)
	}
	return nil
}

// GetPage fetches one page row; the second return reports existence.
func (s *Store) GetPage(ctx context.Context, pageID int64) (crawler.Page, bool, error) {
	var p crawler.Page
	err := s.db.QueryRow(ctx,
		`select page_id, title, namespace, is_redirect, out_degree, in_degree
		 from pages where page_id = $1`, pageID,
	).Scan(&p.PageID, &p.Title, &p.Namespace, &p.IsRedirect, &p.OutDegree, &p.InDegree)
	if err != nil {
		if isNoRows(err) {
			return crawler.Page{}, false, nil
		}
		return crawler.Page{}, false, fmt.Errorf("get page %d: %w", pageID, err)
	}
	return p, true, nil
}

// FilterExisting returns the subset of ids that exist as page rows,
// preserving the input order.
func (s *Store) FilterExisting(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `select page_id from pages where page_id = any($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("filter existing pages: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan page id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter existing pages: %w", err)
	}

	out := make([]int64, 0, len(existing))
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

const insertEdgesSQL = `
insert into links (from_page_id, to_page_id)
select * from unnest($1::bigint[], $2::bigint[])
on conflict do nothing`

// edgeChunkSize bounds a single insert statement.
const edgeChunkSize = 5000

// InsertEdges bulk-inserts directed edges; duplicate pairs are no-ops.
func (s *Store) InsertEdges(ctx context.Context, edges []crawler.Edge) error {
	for start := 0; start < len(edges); start += edgeChunkSize {
		end := min(start+edgeChunkSize, len(edges))
		chunk := edges[start:end]
		from := make([]int64, len(chunk))
		to := make([]int64, len(chunk))
		for i, e := range chunk {
			from[i] = e.FromPageID
			to[i] = e.ToPageID
		}
		if _, err := s.db.Exec(ctx, insertEdgesSQL, from, to); err != nil {
			return fmt.Errorf("insert edges: %w", err)
		}
	}
	return nil
}

const recomputeDegreesSQL = `
update pages set
	out_degree = (select count(*) from links where from_page_id = $1),
	in_degree  = (select count(*) from links where to_page_id = $1)
where page_id = $1
returning out_degree, in_degree`

// RecomputeDegrees recounts the page's degrees from current edge rows.
func (s *Store) RecomputeDegrees(ctx context.Context, pageID int64) (int, int, error) {
	var outDeg, inDeg int
	if err := s.db.QueryRow(ctx, recomputeDegreesSQL, pageID).Scan(&outDeg, &inDeg); err != nil {
		return 0, 0, fmt.Errorf("recompute degrees for %d: %w", pageID, err)
	}
	return outDeg, inDeg, nil
}

// ResetAll destructively truncates all graph and job tables.
func (s *Store) ResetAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `truncate links, page_fetch, pages`); err != nil {
		return fmt.Errorf("reset all data: %w", err)
	}
	return nil
}

// Ego returns the center page, its first- and second-degree neighborhood,
// and every edge induced between the selected nodes.
func (s *Store) Ego(ctx context.Context, pageID int64, limitNeighbors int) (crawler.GraphView, error) {
	view := crawler.GraphView{CenterPageID: pageID}

	center, found, err := s.GetPage(ctx, pageID)
	if err != nil {
		return crawler.GraphView{}, err
	}
	if !found {
		return view, nil
	}

	nodes := map[int64]crawler.GraphNode{
		pageID: {Page: center, IsCenter: true},
	}

	firstDegree, err := s.collectNeighbors(ctx, []int64{pageID}, limitNeighbors)
	if err != nil {
		return crawler.GraphView{}, err
	}
	firstIDs := make([]int64, 0, len(firstDegree))
	for _, p := range firstDegree {
		firstIDs = append(firstIDs, p.PageID)
		if _, ok := nodes[p.PageID]; !ok {
			nodes[p.PageID] = crawler.GraphNode{Page: p}
		}
	}

	if len(firstIDs) > 0 {
		secondDegree, err := s.collectNeighbors(ctx, firstIDs, limitNeighbors)
		if err != nil {
			return crawler.GraphView{}, err
		}
		for _, p := range secondDegree {
			if _, ok := nodes[p.PageID]; !ok {
				nodes[p.PageID] = crawler.GraphNode{Page: p}
			}
		}
	}

	return s.finishView(ctx, view, nodes)
}

// AllNodes returns the top-N connected pages by total degree with the
// edges induced between them. The highest-degree page is flagged center
// for rendering purposes.
func (s *Store) AllNodes(ctx context.Context, limit int) (crawler.GraphView, error) {
	rows, err := s.db.Query(ctx,
		`select page_id, title, namespace, is_redirect, out_degree, in_degree
		 from pages
		 where out_degree > 0 or in_degree > 0
		 order by (out_degree + in_degree) desc
		 limit $1`, limit)
	if err != nil {
		return crawler.GraphView{}, fmt.Errorf("list top pages: %w", err)
	}
	defer rows.Close()

	view := crawler.GraphView{}
	nodes := make(map[int64]crawler.GraphNode)
	for rows.Next() {
		var p crawler.Page
		if err := rows.Scan(&p.PageID, &p.Title, &p.Namespace, &p.IsRedirect, &p.OutDegree, &p.InDegree); err != nil {
			return crawler.GraphView{}, fmt.Errorf("scan page: %w", err)
		}
		node := crawler.GraphNode{Page: p}
		if view.CenterPageID == 0 {
			view.CenterPageID = p.PageID
			node.IsCenter = true
		}
		nodes[p.PageID] = node
	}
	if err := rows.Err(); err != nil {
		return crawler.GraphView{}, fmt.Errorf("list top pages: %w", err)
	}
	if len(nodes) == 0 {
		return view, nil
	}
	return s.finishView(ctx, view, nodes)
}

// collectNeighbors fetches pages adjacent to any of ids in either
// direction, up to limit per direction.
func (s *Store) collectNeighbors(ctx context.Context, ids []int64, limit int) ([]crawler.Page, error) {
	var out []crawler.Page
	queries := []string{
		`select distinct p.page_id, p.title, p.namespace, p.is_redirect, p.out_degree, p.in_degree
		 from links l join pages p on p.page_id = l.to_page_id
		 where l.from_page_id = any($1) limit $2`,
		`select distinct p.page_id, p.title, p.namespace, p.is_redirect, p.out_degree, p.in_degree
		 from links l join pages p on p.page_id = l.from_page_id
		 where l.to_page_id = any($1) limit $2`,
	}
	for _, q := range queries {
		rows, err := s.db.Query(ctx, q, ids, limit)
		if err != nil {
			return nil, fmt.Errorf("collect neighbors: %w", err)
		}
		for rows.Next() {
			var p crawler.Page
			if err := rows.Scan(&p.PageID, &p.Title, &p.Namespace, &p.IsRedirect, &p.OutDegree, &p.InDegree); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan neighbor: %w", err)
			}
			out = append(out, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("collect neighbors: %w", err)
		}
	}
	return out, nil
}

// finishView attaches the induced edge set and flattens the node map.
func (s *Store) finishView(ctx context.Context, view crawler.GraphView, nodes map[int64]crawler.GraphNode) (crawler.GraphView, error) {
	ids := make([]int64, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	rows, err := s.db.Query(ctx,
		`select from_page_id, to_page_id from links
		 where from_page_id = any($1) and to_page_id = any($1)`, ids)
	if err != nil {
		return crawler.GraphView{}, fmt.Errorf("induced edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e crawler.Edge
		if err := rows.Scan(&e.FromPageID, &e.ToPageID); err != nil {
			return crawler.GraphView{}, fmt.Errorf("scan edge: %w", err)
		}
		view.Edges = append(view.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return crawler.GraphView{}, fmt.Errorf("induced edges: %w", err)
	}

	view.Nodes = make([]crawler.GraphNode, 0, len(nodes))
	for _, n := range nodes {
		view.Nodes = append(view.Nodes, n)
	}
	return view, nil
}
