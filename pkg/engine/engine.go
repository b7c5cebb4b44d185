// Package engine defines the step-level interface to the embedded sqlite
// engine. The driver in pkg/lite is written against these interfaces so the
// busy-retry and reprepare logic can be exercised with a fake engine in tests;
// the real implementation lives in pkg/engine/sqlite.
package engine

import "strconv"

// Conn is a single engine connection, i.e. an sqlite3* object.
// A Conn must not be used from more than one goroutine at a time.
type Conn interface {
	// Prepare compiles a single sql statement. byteLen is the number of bytes
	// of sql to compile, allowing recompilation from the original text.
	Prepare(sql string, byteLen int) (Stmt, error)
	// Close releases the connection. All statements must be finalized first.
	Close() error
	// ErrMsg returns the engine's current error message text.
	ErrMsg() string
	// ErrCode returns the engine's current result code.
	ErrCode() Code
}

// Stmt is a compiled statement, i.e. an sqlite3_stmt* object.
type Stmt interface {
	// BindNull, BindText and BindBlob bind a parameter by 1-based ordinal.
	// The engine keeps its own copy of the payload until the next bind of the
	// same ordinal or Finalize.
	BindNull(pos int) error
	BindText(pos int, data []byte) error
	BindBlob(pos int, data []byte) error

	// Step advances the statement and returns the raw engine code:
	// Row, Done, Busy, Schema, Misuse, NoMem or an error code.
	Step() Code

	// Reset returns the statement to its initial state, keeping bindings.
	Reset() error
	// Finalize destroys the statement. Calling any other method after
	// Finalize is a caller protocol violation.
	Finalize() error

	// ParamCount and ColumnCount are fixed at prepare time.
	ParamCount() int
	ColumnCount() int

	// ColumnName returns the engine-reported result column name, or ok=false
	// when the engine cannot supply one.
	ColumnName(col int) (name string, ok bool)
	// ColumnBytes returns the byte length of the column value in the current
	// row. Null columns report 0.
	ColumnBytes(col int) int
	// ColumnType returns the dynamic type of the column value in the current
	// row.
	ColumnType(col int) ColumnType
	// ColumnRaw returns the engine-owned bytes of the column value in the
	// current row. The slice is valid only until the next Step or Reset.
	ColumnRaw(col int) []byte
}

// Code is an sqlite result code.
type Code int

// Result codes the driver dispatches on. Values match the sqlite C API.
const (
	OK     Code = 0
	Error  Code = 1
	Busy   Code = 5
	NoMem  Code = 7
	Schema Code = 17
	Misuse Code = 21
	Row    Code = 100
	Done   Code = 101
)

func (c Code) String() string {
	switch c {
	case OK:
		return "SQLITE_OK"
	case Error:
		return "SQLITE_ERROR"
	case Busy:
		return "SQLITE_BUSY"
	case NoMem:
		return "SQLITE_NOMEM"
	case Schema:
		return "SQLITE_SCHEMA"
	case Misuse:
		return "SQLITE_MISUSE"
	case Row:
		return "SQLITE_ROW"
	case Done:
		return "SQLITE_DONE"
	default:
		return "SQLITE_CODE_" + strconv.Itoa(int(c))
	}
}

// ColumnType is the dynamic type of a single column value. Sqlite types
// values per-row, not per-statement.
type ColumnType int

// Column types, matching the sqlite C API fundamental datatypes.
const (
	Integer ColumnType = 1
	Float   ColumnType = 2
	Text    ColumnType = 3
	Blob    ColumnType = 4
	Null    ColumnType = 5
)
