// Package dbi is the boundary between a host application and a database
// driver. A driver implements the Driver interface, one method per entry
// point, and the host drives the statement lifecycle through it:
// Prepare once per distinct query, then Exec per execution, then NextRow and
// the column accessors for statements that return rows, then Flush before
// reuse and PrepareClose when done.
package dbi

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Value is a single bound parameter: null when Data is nil, otherwise a
// binary or text payload. The driver may reference Data without copying
// until the statement finishes stepping, so the caller must not reuse the
// backing array before then.
type Value struct {
	Data   []byte
	Binary bool
}

// Null reports whether the value binds as NULL.
func (v Value) Null() bool { return v.Data == nil }

// TextValue makes a text Value.
func TextValue(s string) Value { return Value{Data: []byte(s)} }

// BinaryValue makes a binary Value.
func BinaryValue(b []byte) Value { return Value{Data: b, Binary: true} }

// NullValue makes a NULL Value.
func NullValue() Value { return Value{} }

// TxCommand selects the transaction operation.
type TxCommand int

// Transaction commands.
const (
	TxBegin TxCommand = iota
	TxCommit
	TxRollback
)

// Isolation selects the transaction isolation level. Drivers may only
// distinguish the serializable form from the default.
type Isolation int

// Isolation levels.
const (
	IsolationDefault Isolation = iota
	IsolationSerializable
)

// Statement is one query known to a handle. The driver keeps its compiled
// form in DriverData; Length is the byte length of SQL, retained so the
// driver can recompile from the original text.
type Statement struct {
	SQL    string
	Length int

	NumParams int
	NumCols   int

	// DriverData is the driver-owned compiled statement slot. Empty until
	// Prepare succeeds, cleared by PrepareClose.
	DriverData any
}

// Driver is the table of entry points a database driver provides.
// All methods are called with exclusive ownership of the handle.
type Driver interface {
	// Open connects the handle to the datasource.
	Open(h *Handle) error
	// Close disconnects the handle. The host finalizes statements first.
	Close(h *Handle) error
	// Connected reports whether the handle is connected.
	Connected(h *Handle) bool
	// BindVar renders the placeholder for the parameter at 0-based position
	// pos. name is the host-side variable name, which drivers may ignore.
	BindVar(name string, pos int) string
	// Prepare compiles st if its slot is empty and fills the parameter and
	// column counts. Idempotent for a compiled statement.
	Prepare(h *Handle, st *Statement) error
	// PrepareClose finalizes a compiled statement and clears its slot.
	PrepareClose(h *Handle, st *Statement) error
	// Exec binds values by ordinal and, for statements without result
	// columns, runs them to completion.
	Exec(h *Handle, st *Statement, values []Value) error
	// NextRow advances to the next result row. more is false after the last
	// row has been consumed.
	NextRow(h *Handle, st *Statement) (more bool, err error)
	// ColumnLength reports the byte length and binary classification of a
	// column in the current row.
	ColumnLength(h *Handle, st *Statement, col int) (length int, binary bool, err error)
	// ColumnValue copies at most len(buf) bytes of the column into buf.
	ColumnValue(h *Handle, st *Statement, col int, buf []byte) error
	// ColumnName returns the engine-reported name of a result column.
	ColumnName(h *Handle, st *Statement, col int) (string, error)
	// Transaction runs a transaction command at the given nesting depth.
	Transaction(h *Handle, depth int, cmd TxCommand, iso Isolation) error
	// Flush returns an executed statement to the ready state, bindings kept.
	Flush(h *Handle, st *Statement) error
	// Reset restores the handle to a clean state between host requests.
	Reset(h *Handle) error
}

// Handle is the host's logical connection: one driver connection plus the
// host-side statement cache, transaction depth and last reported exception.
// A Handle must be used by one caller at a time.
type Handle struct {
	// DriverData is the driver-owned connection slot.
	DriverData any

	driver  Driver
	stmts   map[string]*Statement
	txDepth int
	lastExc *Error
}

// Open creates a handle and connects it through the driver.
func Open(d Driver) (*Handle, error) {
	h := &Handle{driver: d, stmts: map[string]*Statement{}}
	if err := d.Open(h); err != nil {
		return nil, fmt.Errorf("can't open handle: %w", err)
	}
	return h, nil
}

// Connected reports whether the handle is connected.
func (h *Handle) Connected() bool { return h.driver.Connected(h) }

// SetException records err as the handle's last exception. Drivers call this
// to attach engine errors to the logical handle.
func (h *Handle) SetException(err *Error) { h.lastExc = err }

// LastException returns the most recent exception reported on the handle,
// or nil.
func (h *Handle) LastException() *Error { return h.lastExc }

// Prepare returns the cached statement for sql, compiling it on first use.
func (h *Handle) Prepare(sql string) (*Statement, error) {
	st, ok := h.stmts[sql]
	if !ok {
		st = &Statement{SQL: sql, Length: len(sql)}
		h.stmts[sql] = st
	}
	if err := h.driver.Prepare(h, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Exec prepares, binds and executes sql, which must not return rows.
// The statement is flushed and left cached for reuse.
func (h *Handle) Exec(sql string, values ...Value) error {
	st, err := h.Prepare(sql)
	if err != nil {
		return err
	}
	if st.NumCols > 0 {
		return fmt.Errorf("exec on %q: statement returns rows, use Query", sql)
	}
	if err := h.driver.Exec(h, st, values); err != nil {
		return err
	}
	return h.driver.Flush(h, st)
}

// Query prepares, binds and executes sql and returns a row iterator.
// The caller must consume or Close the rows before reusing the handle.
func (h *Handle) Query(sql string, values ...Value) (*Rows, error) {
	st, err := h.Prepare(sql)
	if err != nil {
		return nil, err
	}
	if err := h.driver.Exec(h, st, values); err != nil {
		return nil, err
	}
	return &Rows{h: h, st: st}, nil
}

// Begin opens a transaction. Nested transactions are rejected by drivers,
// the handle tracks the depth for them.
func (h *Handle) Begin(iso Isolation) error {
	if err := h.driver.Transaction(h, h.txDepth, TxBegin, iso); err != nil {
		return err
	}
	h.txDepth++
	return nil
}

// Commit commits the current transaction.
func (h *Handle) Commit() error {
	if err := h.driver.Transaction(h, 0, TxCommit, IsolationDefault); err != nil {
		return err
	}
	if h.txDepth > 0 {
		h.txDepth--
	}
	return nil
}

// Rollback aborts the current transaction.
func (h *Handle) Rollback() error {
	if err := h.driver.Transaction(h, 0, TxRollback, IsolationDefault); err != nil {
		return err
	}
	if h.txDepth > 0 {
		h.txDepth--
	}
	return nil
}

// Close finalizes all cached statements and disconnects the handle.
func (h *Handle) Close() error {
	var result *multierror.Error
	for _, st := range h.stmts {
		if st.DriverData == nil {
			continue
		}
		if err := h.driver.PrepareClose(h, st); err != nil {
			result = multierror.Append(result, fmt.Errorf("can't finalize %q: %w", st.SQL, err))
		}
	}
	h.stmts = map[string]*Statement{}
	if err := h.driver.Close(h); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Rows iterates the result of a Query. Column data is copied out of the
// driver on each Next, as the engine-owned row buffer is only valid until
// the next advance.
type Rows struct {
	h    *Handle
	st   *Statement
	cols []Column
	done bool
}

// Column is one fully copied-out column of the current row. Null is derived
// from the length and binary classification the driver reports, which cannot
// distinguish a zero-length text value from NULL: an empty string comes back
// as Null.
type Column struct {
	Name   string
	Data   []byte
	Binary bool
	Null   bool
}

// Next fetches the next row, returning false after the last one.
func (r *Rows) Next() (bool, error) {
	if r.done {
		return false, nil
	}
	more, err := r.h.driver.NextRow(r.h, r.st)
	if err != nil {
		return false, err
	}
	if !more {
		r.done = true
		return false, nil
	}
	if err := r.fetch(); err != nil {
		return false, err
	}
	return true, nil
}

// Columns returns the columns of the current row.
func (r *Rows) Columns() []Column { return r.cols }

// Close resets the statement for reuse. Safe to call at any point of the
// iteration.
func (r *Rows) Close() error {
	r.done = true
	return r.h.driver.Flush(r.h, r.st)
}

func (r *Rows) fetch() error {
	d := r.h.driver
	r.cols = make([]Column, r.st.NumCols)
	for i := range r.cols {
		name, err := d.ColumnName(r.h, r.st, i)
		if err != nil {
			return fmt.Errorf("can't get column %d name: %w", i, err)
		}
		length, binary, err := d.ColumnLength(r.h, r.st, i)
		if err != nil {
			return fmt.Errorf("can't get column %q length: %w", name, err)
		}
		col := Column{Name: name, Binary: binary, Null: length == 0 && !binary}
		if length > 0 {
			col.Data = make([]byte, length)
			if err := d.ColumnValue(r.h, r.st, i, col.Data); err != nil {
				return fmt.Errorf("can't get column %q value: %w", name, err)
			}
			col.Null = false
		}
		r.cols[i] = col
	}
	return nil
}

var (
	driversMu sync.Mutex
	drivers   = map[string]Driver{}
)

// Register makes a driver available under the given name, replacing any
// previous registration.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = d
}

// Get returns a registered driver by name.
func Get(name string) (Driver, error) {
	driversMu.Lock()
	defer driversMu.Unlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q", name)
	}
	return d, nil
}
