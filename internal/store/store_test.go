package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver/fakeConn satisfy database/sql/driver with no real
// backend, just enough to exercise the Store's query shapes without a
// live Postgres instance.
type fakeDriver struct{ execs []string }

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{d: d}, nil
}

type fakeConn struct{ d *fakeDriver }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, sql.ErrTxDone }

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.d.execs = append(s.conn.d.execs, s.query)
	return driver.ResultNoRows, nil
}
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.conn.d.execs = append(s.conn.d.execs, s.query)
	return &fakeRows{}, nil
}

type fakeRows struct{ read bool }

func (r *fakeRows) Columns() []string { return []string{"exists"} }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.read {
		return sql.ErrNoRows
	}
	r.read = true
	dest[0] = true
	return nil
}

func newFakeStore(t *testing.T) (*Store, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	name := "fake-store-" + t.Name()
	func() {
		defer func() { recover() }()
		sql.Register(name, d)
	}()
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	return New(db), d
}

func TestInsertExecutesUpsertQuery(t *testing.T) {
	s, d := newFakeStore(t)
	require.NoError(t, s.Insert(context.Background(), "user@example.com"))
	assert.Len(t, d.execs, 1)
}

func TestMarkValidatedExecutesUpdateQuery(t *testing.T) {
	s, d := newFakeStore(t)
	require.NoError(t, s.MarkValidated(context.Background(), "user@example.com", time.Now()))
	assert.Len(t, d.execs, 1)
}

func TestExistsReadsBooleanColumn(t *testing.T) {
	s, _ := newFakeStore(t)
	exists, err := s.Exists(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.True(t, exists, "expected exists=true from fake row")
}
