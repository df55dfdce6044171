package source

import (
	"context"
	"fmt"
	"sync"
)

// Sheet exposes a single collection through the RecordSource capability.
// Flag changes buffer locally and commit as one batch on Flush. Writes to
// the underlying collection serialize on the sheet's mutex.
type Sheet struct {
	client       Client
	discussions  DiscussionClient // optional
	collectionID string

	mu          sync.Mutex
	colsByTitle map[string]string         // column title -> column ID
	pending     map[string]map[string]any // row ID -> column ID -> value
}

// NewSheet wraps one collection. discussions may be nil when the backend
// has no comment threads.
func NewSheet(client Client, discussions DiscussionClient, collectionID string) *Sheet {
	return &Sheet{
		client:       client,
		discussions:  discussions,
		collectionID: collectionID,
		pending:      make(map[string]map[string]any),
	}
}

// CollectionID identifies the underlying collection.
func (s *Sheet) CollectionID() string { return s.collectionID }

type sheetRow struct {
	owner  *Sheet
	id     string
	number int
	cells  map[string]any // by column ID
}

func (r *sheetRow) Number() int { return r.number }

// ListRows fetches a fresh snapshot. Every scheduling pass re-reads so the
// engine never acts on stale completion flags.
func (s *Sheet) ListRows(ctx context.Context) ([]Row, error) {
	grid, err := s.client.GetGrid(ctx, s.collectionID)
	if err != nil {
		return nil, fmt.Errorf("get grid %s: %w", s.collectionID, err)
	}

	cols := make(map[string]string, len(grid.Columns))
	for _, c := range grid.Columns {
		cols[c.Title] = c.ID
	}

	rows := make([]Row, 0, len(grid.Rows))
	for _, gr := range grid.Rows {
		cells := make(map[string]any, len(gr.Cells))
		for _, c := range gr.Cells {
			cells[c.ColumnID] = c.Value
		}
		rows = append(rows, &sheetRow{owner: s, id: gr.ID, number: gr.Number, cells: cells})
	}

	s.mu.Lock()
	s.colsByTitle = cols
	s.mu.Unlock()

	return rows, nil
}

func (s *Sheet) ownRow(row Row) (*sheetRow, error) {
	r, ok := row.(*sheetRow)
	if !ok || r.owner != s {
		return nil, ErrForeignRow
	}
	return r, nil
}

func (s *Sheet) columnID(title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.colsByTitle[title]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, title)
	}
	return id, nil
}

func (s *Sheet) GetField(row Row, column string) (any, error) {
	r, err := s.ownRow(row)
	if err != nil {
		return nil, err
	}
	colID, err := s.columnID(column)
	if err != nil {
		return nil, err
	}
	return r.cells[colID], nil
}

// GetFlag reads a checkbox column, seeing buffered but unflushed changes.
func (s *Sheet) GetFlag(row Row, flag string) (bool, error) {
	r, err := s.ownRow(row)
	if err != nil {
		return false, err
	}
	colID, err := s.columnID(flag)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if cells, ok := s.pending[r.id]; ok {
		if v, ok := cells[colID]; ok {
			s.mu.Unlock()
			return coerceBool(v), nil
		}
	}
	s.mu.Unlock()

	return coerceBool(r.cells[colID]), nil
}

// SetFlag buffers the change; nothing reaches the backend until Flush.
func (s *Sheet) SetFlag(row Row, flag string, value bool) error {
	r, err := s.ownRow(row)
	if err != nil {
		return err
	}
	colID, err := s.columnID(flag)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cells, ok := s.pending[r.id]
	if !ok {
		cells = make(map[string]any)
		s.pending[r.id] = cells
	}
	cells[colID] = value
	return nil
}

// Flush commits all buffered changes in one batch. On failure the buffer
// is kept so the caller can retry; the batch update is idempotent.
func (s *Sheet) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	var updates []CellUpdate
	for rowID, cells := range s.pending {
		for colID, v := range cells {
			updates = append(updates, CellUpdate{RowID: rowID, ColumnID: colID, Value: v})
		}
	}
	s.mu.Unlock()

	if err := s.client.UpdateCells(ctx, s.collectionID, updates); err != nil {
		return &WriteBackError{Collection: s.collectionID, Err: err}
	}

	s.mu.Lock()
	s.pending = make(map[string]map[string]any)
	s.mu.Unlock()
	return nil
}

// AddCorrection appends comment to the first discussion on row whose title
// matches, scanning the row's entire discussion list before deciding to
// create a new one.
func (s *Sheet) AddCorrection(ctx context.Context, row Row, title, comment string) error {
	if s.discussions == nil {
		return fmt.Errorf("collection %s has no discussion support", s.collectionID)
	}
	r, err := s.ownRow(row)
	if err != nil {
		return err
	}

	list, err := s.discussions.ListDiscussions(ctx, s.collectionID, r.id)
	if err != nil {
		return fmt.Errorf("list discussions: %w", err)
	}
	for _, d := range list {
		if d.Title == title {
			return s.discussions.AddComment(ctx, s.collectionID, d.ID, comment)
		}
	}
	return s.discussions.CreateDiscussion(ctx, s.collectionID, r.id, title, comment)
}

func coerceBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

var (
	_ RecordSource = (*Sheet)(nil)
	_ Corrector    = (*Sheet)(nil)
)
