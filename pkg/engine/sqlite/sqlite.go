// Package sqlite implements the engine interfaces on top of the pure-go
// transpiled sqlite from modernc.org. All engine objects are C-side pointers
// managed through modernc.org/libc; bound parameter payloads are copied into
// C memory owned by the statement and released on finalize.
package sqlite

import (
	"fmt"
	"sync"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/naviserver-project/nsdbilite/pkg/engine"
)

var (
	_ engine.Conn = (*Conn)(nil)
	_ engine.Stmt = (*Stmt)(nil)
)

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

var initOnce sync.Once

var initErr error

func libInit() error {
	initOnce.Do(func() {
		tls := libc.NewTLS()
		defer tls.Close()
		if rc := sqlite3.Xsqlite3_initialize(tls); rc != sqlite3.SQLITE_OK {
			initErr = fmt.Errorf("sqlite3_initialize: %d", rc)
		}
	})
	return initErr
}

// Conn is a connection to one sqlite database.
type Conn struct {
	tls *libc.TLS
	db  uintptr
}

// Open opens or creates the database at the given datasource. The special
// datasource ":memory:" opens a private in-memory database.
func Open(datasource string) (*Conn, error) {
	if err := libInit(); err != nil {
		return nil, err
	}

	c := &Conn{tls: libc.NewTLS()}

	zName, err := libc.CString(datasource)
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	defer libc.Xfree(c.tls, zName)

	ppDB, err := c.malloc(ptrSize)
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	defer libc.Xfree(c.tls, ppDB)

	flags := int32(sqlite3.SQLITE_OPEN_READWRITE | sqlite3.SQLITE_OPEN_CREATE | sqlite3.SQLITE_OPEN_URI)
	rc := sqlite3.Xsqlite3_open_v2(c.tls, zName, ppDB, flags, 0)
	c.db = *(*uintptr)(unsafe.Pointer(ppDB))
	if rc != sqlite3.SQLITE_OK {
		// a failed open can still return a handle, release it
		err := fmt.Errorf("can't open %q: %s", datasource, c.ErrMsg())
		if c.db != 0 {
			sqlite3.Xsqlite3_close(c.tls, c.db)
		}
		c.tls.Close()
		return nil, err
	}

	return c, nil
}

// Close releases the connection. Statements must be finalized first or the
// engine refuses to close.
func (c *Conn) Close() error {
	if rc := sqlite3.Xsqlite3_close(c.tls, c.db); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("can't close connection: %s", c.ErrMsg())
	}
	c.db = 0
	c.tls.Close()
	return nil
}

// ErrMsg returns the engine's current error message.
func (c *Conn) ErrMsg() string {
	return libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
}

// ErrCode returns the engine's current result code.
func (c *Conn) ErrCode() engine.Code {
	return engine.Code(sqlite3.Xsqlite3_errcode(c.tls, c.db))
}

// Prepare compiles the first byteLen bytes of sql into a statement.
func (c *Conn) Prepare(sql string, byteLen int) (engine.Stmt, error) {
	zSQL, err := libc.CString(sql)
	if err != nil {
		return nil, err
	}
	defer libc.Xfree(c.tls, zSQL)

	ppStmt, err := c.malloc(ptrSize)
	if err != nil {
		return nil, err
	}
	defer libc.Xfree(c.tls, ppStmt)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zSQL, int32(byteLen), ppStmt, 0); rc != sqlite3.SQLITE_OK {
		return nil, fmt.Errorf("%s", c.ErrMsg())
	}

	st := *(*uintptr)(unsafe.Pointer(ppStmt))
	if st == 0 {
		// sql was empty or a comment, nothing compiled
		return nil, fmt.Errorf("no statement in %q", sql)
	}
	return &Stmt{conn: c, st: st, allocs: map[int]uintptr{}}, nil
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("malloc(%v) failed", n)
}

// Stmt is one compiled statement. Not safe for concurrent use.
type Stmt struct {
	conn   *Conn
	st     uintptr
	allocs map[int]uintptr // bound parameter payloads by ordinal
}

// BindNull binds NULL to the 1-based parameter pos.
func (s *Stmt) BindNull(pos int) error {
	s.freeParam(pos)
	if rc := sqlite3.Xsqlite3_bind_null(s.conn.tls, s.st, int32(pos)); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("%s", s.conn.ErrMsg())
	}
	return nil
}

// BindText binds data as text to the 1-based parameter pos. The payload is
// copied into statement-owned memory, no transcoding is applied.
func (s *Stmt) BindText(pos int, data []byte) error {
	p, err := s.copyParam(pos, data)
	if err != nil {
		return err
	}
	if rc := sqlite3.Xsqlite3_bind_text(s.conn.tls, s.st, int32(pos), p, int32(len(data)), 0); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("%s", s.conn.ErrMsg())
	}
	return nil
}

// BindBlob binds data as a blob to the 1-based parameter pos.
func (s *Stmt) BindBlob(pos int, data []byte) error {
	p, err := s.copyParam(pos, data)
	if err != nil {
		return err
	}
	if rc := sqlite3.Xsqlite3_bind_blob(s.conn.tls, s.st, int32(pos), p, int32(len(data)), 0); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("%s", s.conn.ErrMsg())
	}
	return nil
}

// copyParam copies data into a fresh C buffer registered under pos, releasing
// any previous buffer for the same ordinal. The buffer must stay alive while
// the engine references it: it is bound with static lifetime semantics.
func (s *Stmt) copyParam(pos int, data []byte) (uintptr, error) {
	s.freeParam(pos)
	n := len(data)
	// a NULL pointer would bind as NULL even with length 0, keep zero-length
	// payloads distinct by allocating at least one byte
	p, err := s.conn.malloc(max(n, 1))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], data)
	}
	s.allocs[pos] = p
	return p, nil
}

func (s *Stmt) freeParam(pos int) {
	if p, ok := s.allocs[pos]; ok && p != 0 {
		libc.Xfree(s.conn.tls, p)
		delete(s.allocs, pos)
	}
}

// Step advances the statement by one row and returns the raw engine code.
func (s *Stmt) Step() engine.Code {
	return engine.Code(sqlite3.Xsqlite3_step(s.conn.tls, s.st))
}

// Reset returns the statement to its initial state keeping bindings.
func (s *Stmt) Reset() error {
	if rc := sqlite3.Xsqlite3_reset(s.conn.tls, s.st); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("%s", s.conn.ErrMsg())
	}
	return nil
}

// Finalize destroys the statement and releases bound parameter buffers.
func (s *Stmt) Finalize() error {
	rc := sqlite3.Xsqlite3_finalize(s.conn.tls, s.st)
	s.st = 0
	for pos := range s.allocs {
		s.freeParam(pos)
	}
	if rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("%s", s.conn.ErrMsg())
	}
	return nil
}

// ParamCount returns the number of bindable parameters.
func (s *Stmt) ParamCount() int {
	return int(sqlite3.Xsqlite3_bind_parameter_count(s.conn.tls, s.st))
}

// ColumnCount returns the number of result columns.
func (s *Stmt) ColumnCount() int {
	return int(sqlite3.Xsqlite3_column_count(s.conn.tls, s.st))
}

// ColumnName returns the name of the 0-based result column.
func (s *Stmt) ColumnName(col int) (string, bool) {
	p := sqlite3.Xsqlite3_column_name(s.conn.tls, s.st, int32(col))
	if p == 0 {
		return "", false
	}
	return libc.GoString(p), true
}

// ColumnBytes returns the byte length of the column in the current row.
func (s *Stmt) ColumnBytes(col int) int {
	return int(sqlite3.Xsqlite3_column_bytes(s.conn.tls, s.st, int32(col)))
}

// ColumnType returns the dynamic type of the column in the current row.
func (s *Stmt) ColumnType(col int) engine.ColumnType {
	return engine.ColumnType(sqlite3.Xsqlite3_column_type(s.conn.tls, s.st, int32(col)))
}

// ColumnRaw returns the column bytes of the current row. Blob columns read
// through sqlite3_column_blob, everything else through sqlite3_column_text.
// The returned slice is a copy, safe to keep past the next step.
func (s *Stmt) ColumnRaw(col int) []byte {
	var p uintptr
	if s.ColumnType(col) == engine.Blob {
		p = sqlite3.Xsqlite3_column_blob(s.conn.tls, s.st, int32(col))
	} else {
		p = sqlite3.Xsqlite3_column_text(s.conn.tls, s.st, int32(col))
	}
	n := s.ColumnBytes(col)
	if p == 0 || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}
