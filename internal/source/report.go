package source

import "context"

// Report federates several sheets behind one RecordSource. Rows keep their
// owning sheet, so flag reads and buffered writes route to the right
// collection and flushes stay batched per sheet.
type Report struct {
	sheets []*Sheet
}

func NewReport(sheets ...*Sheet) *Report {
	return &Report{sheets: sheets}
}

func (r *Report) ListRows(ctx context.Context) ([]Row, error) {
	var all []Row
	for _, s := range r.sheets {
		rows, err := s.ListRows(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// route finds the sheet that owns row.
func (r *Report) route(row Row) (*Sheet, error) {
	sr, ok := row.(*sheetRow)
	if !ok {
		return nil, ErrForeignRow
	}
	for _, s := range r.sheets {
		if sr.owner == s {
			return s, nil
		}
	}
	return nil, ErrForeignRow
}

func (r *Report) GetField(row Row, column string) (any, error) {
	s, err := r.route(row)
	if err != nil {
		return nil, err
	}
	return s.GetField(row, column)
}

func (r *Report) GetFlag(row Row, flag string) (bool, error) {
	s, err := r.route(row)
	if err != nil {
		return false, err
	}
	return s.GetFlag(row, flag)
}

func (r *Report) SetFlag(row Row, flag string, value bool) error {
	s, err := r.route(row)
	if err != nil {
		return err
	}
	return s.SetFlag(row, flag, value)
}

// Flush commits every member sheet's buffer. The first write-back failure
// stops the flush; already-committed sheets have cleared their buffers, so
// a retry only re-sends what is still pending.
func (r *Report) Flush(ctx context.Context) error {
	for _, s := range r.sheets {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) AddCorrection(ctx context.Context, row Row, title, comment string) error {
	s, err := r.route(row)
	if err != nil {
		return err
	}
	return s.AddCorrection(ctx, row, title, comment)
}

var (
	_ RecordSource = (*Report)(nil)
	_ Corrector    = (*Report)(nil)
)
