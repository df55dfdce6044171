// Package postgres implements the RecordSource capability on top of a
// plain appointments table, for deployments that keep the tracker in a
// database instead of a hosted sheet.
package postgres

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/source"
)

// Store implements source.RecordSource and source.Corrector using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration

	mu      sync.Mutex
	pending map[int64]map[string]bool // appointment ID -> flag -> value
}

// New creates a store. opTimeout bounds every database operation.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{
		db:        db,
		opTimeout: opTimeout,
		pending:   make(map[int64]map[string]bool),
	}
}

type pgRow struct {
	owner  *Store
	id     int64
	fields map[string]any
	flags  map[string]bool
}

// Number reuses the primary key as the display number.
func (r *pgRow) Number() int { return int(r.id) }

func (s *Store) ListRows(ctx context.Context) ([]source.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAppointments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []source.Row
	for rows.Next() {
		var (
			id                          int64
			siteID, techName, techPhone sql.NullString
			address, city, state, zip   sql.NullString
			securedDate                 sql.NullTime
			securedTime                 sql.NullInt64
			workMarket, workOrder       sql.NullString
			call24h, call1h             bool
		)
		err := rows.Scan(&id, &siteID, &techName, &techPhone,
			&address, &city, &state, &zip,
			&securedDate, &securedTime, &workMarket, &workOrder,
			&call24h, &call1h)
		if err != nil {
			return nil, err
		}

		fields := map[string]any{
			domain.ColSiteID:     nullStr(siteID),
			domain.ColTechName:   nullStr(techName),
			domain.ColTechPhone:  nullStr(techPhone),
			domain.ColAddress:    nullStr(address),
			domain.ColCity:       nullStr(city),
			domain.ColState:      nullStr(state),
			domain.ColZip:        nullStr(zip),
			domain.ColWorkMarket: nullStr(workMarket),
			domain.ColWorkOrder:  nullStr(workOrder),
		}
		if securedDate.Valid {
			fields[domain.ColApptDate] = securedDate.Time.Format("2006-01-02")
		}
		if securedTime.Valid {
			fields[domain.ColApptTime] = float64(securedTime.Int64)
		}

		result = append(result, &pgRow{
			owner:  s,
			id:     id,
			fields: fields,
			flags: map[string]bool{
				domain.Flag24Hour: call24h,
				domain.Flag1Hour:  call1h,
			},
		})
	}
	return result, rows.Err()
}

func (s *Store) ownRow(row source.Row) (*pgRow, error) {
	r, ok := row.(*pgRow)
	if !ok || r.owner != s {
		return nil, source.ErrForeignRow
	}
	return r, nil
}

func (s *Store) GetField(row source.Row, column string) (any, error) {
	r, err := s.ownRow(row)
	if err != nil {
		return nil, err
	}
	v, ok := r.fields[column]
	if !ok {
		if _, isFlag := r.flags[column]; isFlag {
			return r.flags[column], nil
		}
		return nil, source.ErrUnknownColumn
	}
	return v, nil
}

func (s *Store) GetFlag(row source.Row, flag string) (bool, error) {
	r, err := s.ownRow(row)
	if err != nil {
		return false, err
	}
	v, ok := r.flags[flag]
	if !ok {
		return false, source.ErrUnknownColumn
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if buffered, ok := s.pending[r.id]; ok {
		if bv, ok := buffered[flag]; ok {
			return bv, nil
		}
	}
	return v, nil
}

func (s *Store) SetFlag(row source.Row, flag string, value bool) error {
	r, err := s.ownRow(row)
	if err != nil {
		return err
	}
	if _, ok := r.flags[flag]; !ok {
		return source.ErrUnknownColumn
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buffered, ok := s.pending[r.id]
	if !ok {
		buffered = make(map[string]bool)
		s.pending[r.id] = buffered
	}
	buffered[flag] = value
	return nil
}

// Flush commits buffered flag changes in one transaction. The buffer is
// kept on failure; the updates are idempotent so a retry is safe.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[int64]map[string]bool, len(s.pending))
	for id, flags := range s.pending {
		copied := make(map[string]bool, len(flags))
		for k, v := range flags {
			copied[k] = v
		}
		snapshot[id] = copied
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.flushTx(ctx, snapshot); err != nil {
		return &source.WriteBackError{Collection: "appointments", Err: err}
	}

	s.mu.Lock()
	s.pending = make(map[int64]map[string]bool)
	s.mu.Unlock()
	return nil
}

func (s *Store) flushTx(ctx context.Context, snapshot map[int64]map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, flags := range snapshot {
		for flag, value := range flags {
			query := queryUpdate24HourFlag
			if flag == domain.Flag1Hour {
				query = queryUpdate1HourFlag
			}
			if _, err := tx.ExecContext(ctx, query, value, id); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// AddCorrection records the note in a side table; the title keeps
// corrections for the same concern grouped the way sheet discussions are.
func (s *Store) AddCorrection(ctx context.Context, row source.Row, title, comment string) error {
	r, err := s.ownRow(row)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx, queryInsertCorrection, r.id, title, comment)
	return err
}

func nullStr(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

var (
	_ source.RecordSource = (*Store)(nil)
	_ source.Corrector    = (*Store)(nil)
)
