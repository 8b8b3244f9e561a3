package wikiapi

import (
	"context"
	"errors"

	"cgt.name/pkg/go-wikiapi/replica"
)

// replicaDB opens the database of the session the first time it is
// used.
func (s *Session) replicaDB() (*replica.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if s.sqlDSN == "" {
		return nil, errors.New("no replica database configured; use WithReplica")
	}
	db, err := replica.Open(s.sqlDriver, s.sqlDSN)
	if err != nil {
		return nil, err
	}
	db.SetLogger(s.logger)
	s.db = db
	return db, nil
}

// RunSQL runs a query against the replica database configured with
// WithReplica and calls fn for every row. Returning ErrStop from fn ends
// the iteration without an error. It returns the number of rows passed
// to fn.
func (s *Session) RunSQL(ctx context.Context, query string, fn func(replica.Row) error, args ...any) (int, error) {
	db, err := s.replicaDB()
	if err != nil {
		return 0, err
	}
	return db.Query(ctx, query, func(row replica.Row) error {
		if err := fn(row); err != nil {
			if errors.Is(err, ErrStop) {
				return replica.ErrStop
			}
			return err
		}
		return nil
	}, args...)
}
