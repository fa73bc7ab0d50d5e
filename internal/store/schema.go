package store

import (
	"context"
	"fmt"
)

const schemaDDL = `
create table if not exists pages (
	page_id     bigint primary key,
	title       text not null,
	namespace   int not null default 0,
	is_redirect boolean not null default false,
	out_degree  int not null default 0,
	in_degree   int not null default 0
);

create table if not exists links (
	from_page_id bigint not null,
	to_page_id   bigint not null,
	primary key (from_page_id, to_page_id)
);

create index if not exists links_to_page_idx on links (to_page_id);

create table if not exists page_fetch (
	page_id      bigint primary key,
	status       text not null default 'queued',
	requested_by text,
	priority     int not null default 0,
	started_at   timestamptz,
	finished_at  timestamptz,
	last_error   text,
	last_cursor  jsonb,
	updated_at   timestamptz not null default now()
);

create index if not exists page_fetch_claim_idx
	on page_fetch (priority desc, updated_at asc)
	where status = 'queued';
`

// EnsureSchema creates the graph and ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
