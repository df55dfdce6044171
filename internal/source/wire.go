package source

import "context"

// Grid is a point-in-time snapshot of one collection as delivered by the
// row-storage backend. The wire protocol behind it is not this package's
// concern.
type Grid struct {
	Columns []Column
	Rows    []GridRow
}

type Column struct {
	ID    string
	Title string
}

type GridRow struct {
	ID     string
	Number int
	Cells  []Cell
}

type Cell struct {
	ColumnID string
	Value    any
}

// CellUpdate is one buffered cell mutation.
type CellUpdate struct {
	RowID    string
	ColumnID string
	Value    any
}

// Client is the wire-level capability a Sheet consumes.
type Client interface {
	GetGrid(ctx context.Context, collectionID string) (Grid, error)
	// UpdateCells commits the batch atomically and is idempotent on retry.
	UpdateCells(ctx context.Context, collectionID string, updates []CellUpdate) error
}

// Discussion is one comment thread attached to a row.
type Discussion struct {
	ID    string
	Title string
}

// DiscussionClient is the wire-level capability for correction notes.
type DiscussionClient interface {
	ListDiscussions(ctx context.Context, collectionID, rowID string) ([]Discussion, error)
	AddComment(ctx context.Context, collectionID, discussionID, comment string) error
	CreateDiscussion(ctx context.Context, collectionID, rowID, title, comment string) error
}
