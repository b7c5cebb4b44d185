package lite

import (
	"errors"

	"github.com/naviserver-project/nsdbilite/pkg/engine"
)

// fakeConn is a scriptable engine connection. Prepare hands out statements
// from the queue in order; an empty queue reports prepareErr.
type fakeConn struct {
	queue      []*fakeStmt
	prepareErr error

	preparedSQL []string // every sql text passed to Prepare
	errMsg      string
	errCode     engine.Code
}

func (c *fakeConn) Prepare(sql string, _ int) (engine.Stmt, error) {
	c.preparedSQL = append(c.preparedSQL, sql)
	if len(c.queue) == 0 {
		if c.prepareErr == nil {
			return nil, errors.New("fake: prepare queue empty")
		}
		return nil, c.prepareErr
	}
	st := c.queue[0]
	c.queue = c.queue[1:]
	st.conn = c
	st.sql = sql
	return st, nil
}

func (c *fakeConn) Close() error         { return nil }
func (c *fakeConn) ErrMsg() string       { return c.errMsg }
func (c *fakeConn) ErrCode() engine.Code { return c.errCode }

// fakeCol is one column of the single fake result row.
type fakeCol struct {
	name    string
	hasName bool
	typ     engine.ColumnType
	data    []byte
}

type boundParam struct {
	kind string // "null", "text" or "blob"
	data []byte
}

// fakeStmt implements engine.Stmt with a scripted sequence of step codes.
type fakeStmt struct {
	conn *fakeConn
	sql  string

	params int
	cols   []fakeCol
	steps  []engine.Code // consumed one per Step, Done when exhausted

	binds     map[int]boundParam
	stepCount int
	resets    int
	finalized bool
}

func (s *fakeStmt) bind(pos int, kind string, data []byte) error {
	if s.binds == nil {
		s.binds = map[int]boundParam{}
	}
	s.binds[pos] = boundParam{kind: kind, data: data}
	return nil
}

func (s *fakeStmt) BindNull(pos int) error              { return s.bind(pos, "null", nil) }
func (s *fakeStmt) BindText(pos int, data []byte) error { return s.bind(pos, "text", data) }
func (s *fakeStmt) BindBlob(pos int, data []byte) error { return s.bind(pos, "blob", data) }

func (s *fakeStmt) Step() engine.Code {
	s.stepCount++
	if len(s.steps) == 0 {
		return engine.Done
	}
	rc := s.steps[0]
	s.steps = s.steps[1:]
	return rc
}

func (s *fakeStmt) Reset() error    { s.resets++; return nil }
func (s *fakeStmt) Finalize() error { s.finalized = true; return nil }

func (s *fakeStmt) ParamCount() int  { return s.params }
func (s *fakeStmt) ColumnCount() int { return len(s.cols) }

func (s *fakeStmt) ColumnName(col int) (string, bool) {
	c := s.cols[col]
	if !c.hasName {
		return "", false
	}
	return c.name, true
}

func (s *fakeStmt) ColumnBytes(col int) int              { return len(s.cols[col].data) }
func (s *fakeStmt) ColumnType(col int) engine.ColumnType { return s.cols[col].typ }
func (s *fakeStmt) ColumnRaw(col int) []byte             { return s.cols[col].data }
