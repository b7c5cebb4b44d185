// Package lite is a dbi driver for the embedded sqlite engine. It implements
// the full statement lifecycle against pkg/engine: prepare, ordinal bind,
// step with bounded busy retry, transparent recompile on schema change, lazy
// row access and the three fixed transaction statements.
package lite

import (
	"log"

	"github.com/naviserver-project/nsdbilite/pkg/dbi"
	"github.com/naviserver-project/nsdbilite/pkg/engine"
	"github.com/naviserver-project/nsdbilite/pkg/engine/sqlite"
)

// DriverName is the name the driver registers under.
const DriverName = "sqlite"

// excCode tags every exception this driver reports.
const excCode = "SQLIT"

// Defaults for Config zero values.
const (
	DefaultDatasource  = ":memory:"
	DefaultBusyRetries = 100
)

// Config is the driver configuration, read once at construction.
type Config struct {
	Datasource string // database file, default in-memory

	// BusyRetries is the step attempt budget under lock contention. Zero
	// selects the default, a negative value disables retries so contention
	// fails after a single attempt.
	BusyRetries int
}

// OpenFunc opens an engine connection for a datasource.
type OpenFunc func(datasource string) (engine.Conn, error)

// Driver implements dbi.Driver for sqlite.
type Driver struct {
	cfg   Config
	open  OpenFunc
	retry RetryPolicy
}

var _ dbi.Driver = (*Driver)(nil)

// New creates a driver with the real sqlite engine.
func New(cfg Config) *Driver {
	if cfg.Datasource == "" {
		cfg.Datasource = DefaultDatasource
	}
	if cfg.BusyRetries == 0 {
		cfg.BusyRetries = DefaultBusyRetries
	}
	if cfg.BusyRetries < 0 {
		cfg.BusyRetries = 0
	}
	return &Driver{
		cfg:   cfg,
		open:  func(ds string) (engine.Conn, error) { return sqlite.Open(ds) },
		retry: NewRetryPolicy(cfg.BusyRetries),
	}
}

// Register makes the driver available through the dbi registry, the module
// initialization entry point for hosts that look drivers up by name.
func Register(cfg Config) {
	dbi.Register(DriverName, New(cfg))
}

// connData is the driver-side state of one handle.
type connData struct {
	conn engine.Conn
	h    *dbi.Handle // back-reference for exception reporting
}

// Open connects the handle to the configured datasource.
func (d *Driver) Open(h *dbi.Handle) error {
	conn, err := d.open(d.cfg.Datasource)
	if err != nil {
		e := dbi.Errorf(dbi.KindQuery, excCode, "%v", err)
		h.SetException(e)
		return e
	}
	h.DriverData = &connData{conn: conn, h: h}
	return nil
}

// Close disconnects the handle.
func (d *Driver) Close(h *dbi.Handle) error {
	cd := h.DriverData.(*connData)
	h.DriverData = nil
	if err := cd.conn.Close(); err != nil {
		log.Printf("[WARN] dbilite: error closing db handle: %v", err)
		return err
	}
	return nil
}

// Connected reports whether the handle has a live connection.
func (d *Driver) Connected(h *dbi.Handle) bool {
	return h.DriverData != nil
}

// BindVar renders a positional marker. Sqlite handles :var notation
// natively, but plain '?' is easier to drive from the host, so names are
// ignored.
func (d *Driver) BindVar(_ string, _ int) string {
	return "?"
}

// Prepare compiles the statement unless it is already compiled, and reports
// the parameter and column counts. On failure the slot stays empty so a
// later Prepare can retry.
func (d *Driver) Prepare(h *dbi.Handle, st *dbi.Statement) error {
	cd := h.DriverData.(*connData)

	if st.DriverData != nil {
		return nil
	}
	es, err := cd.conn.Prepare(st.SQL, st.Length)
	if err != nil {
		return d.reportException(cd)
	}
	st.NumParams = es.ParamCount()
	st.NumCols = es.ColumnCount()
	st.DriverData = es
	return nil
}

// PrepareClose finalizes the compiled statement and clears the slot.
// Finalizing a statement that was never compiled is a programming error.
func (d *Driver) PrepareClose(h *dbi.Handle, st *dbi.Statement) error {
	cd := h.DriverData.(*connData)
	if st.DriverData == nil {
		panic("dbilite: PrepareClose: statement not compiled")
	}
	es := st.DriverData.(engine.Stmt)
	st.DriverData = nil
	if err := es.Finalize(); err != nil {
		return d.reportException(cd)
	}
	return nil
}

// Exec binds values to the compiled statement by ordinal and, for statements
// without result columns, steps the state machine to completion as the host
// will not fetch rows from them.
func (d *Driver) Exec(h *dbi.Handle, st *dbi.Statement, values []dbi.Value) error {
	cd := h.DriverData.(*connData)
	es, err := d.stmt(h, st)
	if err != nil {
		return err
	}

	// sqlite indexes parameters from 1, the host from 0
	for i, v := range values {
		switch {
		case v.Null():
			err = es.BindNull(i + 1)
		case v.Binary:
			err = es.BindBlob(i+1, v.Data)
		default:
			err = es.BindText(i+1, v.Data)
		}
		if err != nil {
			return d.reportException(cd)
		}
	}

	if st.NumCols > 0 {
		return nil
	}

	rc, err := d.step(h, st)
	if err != nil {
		return err
	}
	if rc == engine.Row {
		e := dbi.Errorf(dbi.KindMisuse, excCode, "dbilite: Exec: bug: DML statement returned rows")
		h.SetException(e)
		return e
	}
	return nil
}

// NextRow advances the statement to the next result row. more is false once
// the result set is exhausted.
func (d *Driver) NextRow(h *dbi.Handle, st *dbi.Statement) (more bool, err error) {
	rc, err := d.step(h, st)
	if err != nil {
		return false, err
	}
	return rc == engine.Row, nil
}

// ColumnLength reports the byte length of the column in the current row and
// whether it holds binary data. Null columns are zero length and not binary.
// Classification comes from the column's dynamic type, sqlite types values
// per row.
func (d *Driver) ColumnLength(h *dbi.Handle, st *dbi.Statement, col int) (int, bool, error) {
	es, err := d.stmt(h, st)
	if err != nil {
		return 0, false, err
	}
	return es.ColumnBytes(col), es.ColumnType(col) == engine.Blob, nil
}

// ColumnValue copies at most len(buf) bytes of the column in the current row
// into buf. The caller sizes buf from ColumnLength.
func (d *Driver) ColumnValue(h *dbi.Handle, st *dbi.Statement, col int, buf []byte) error {
	es, err := d.stmt(h, st)
	if err != nil {
		return err
	}
	copy(buf, es.ColumnRaw(col))
	return nil
}

// ColumnName returns the engine-reported name for a result column. A missing
// name is an error, not an empty string.
func (d *Driver) ColumnName(h *dbi.Handle, st *dbi.Statement, col int) (string, error) {
	es, err := d.stmt(h, st)
	if err != nil {
		return "", err
	}
	name, ok := es.ColumnName(col)
	if !ok {
		e := dbi.Errorf(dbi.KindQuery, excCode, "dbilite: no name for column %d", col)
		h.SetException(e)
		return "", e
	}
	return name, nil
}

// Transaction begins, commits or rolls back a transaction as a literal
// statement through the regular state machine. Nested transactions are
// rejected before the engine is touched.
func (d *Driver) Transaction(h *dbi.Handle, depth int, cmd dbi.TxCommand, iso dbi.Isolation) error {
	if depth > 0 {
		e := dbi.Errorf(dbi.KindQuery, excCode, "dbilite does not support nested transactions")
		h.SetException(e)
		return e
	}

	var sql string
	switch cmd {
	case dbi.TxBegin:
		sql = "begin"
		if iso == dbi.IsolationSerializable {
			sql = "begin exclusive"
		}
	case dbi.TxCommit:
		sql = "commit"
	case dbi.TxRollback:
		sql = "rollback"
	default:
		e := dbi.Errorf(dbi.KindMisuse, excCode, "dbilite: Transaction: unhandled cmd: %d", int(cmd))
		h.SetException(e)
		return e
	}

	st := &dbi.Statement{SQL: sql, Length: len(sql)}
	if err := d.Prepare(h, st); err != nil {
		return err
	}
	rc, err := d.step(h, st)
	if cerr := d.PrepareClose(h, st); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if rc != engine.Done {
		e := dbi.Errorf(dbi.KindMisuse, excCode, "dbilite: Transaction: bug: %q returned rows", sql)
		h.SetException(e)
		return e
	}
	return nil
}

// Flush returns an executed statement to the ready state so it can be bound
// and stepped again. Bindings are kept: the host has no way to re-bind a
// subset, it re-binds everything before the next execution.
func (d *Driver) Flush(h *dbi.Handle, st *dbi.Statement) error {
	cd := h.DriverData.(*connData)
	es, err := d.stmt(h, st)
	if err != nil {
		return err
	}
	if err := es.Reset(); err != nil {
		return d.reportException(cd)
	}
	return nil
}

// Reset restores the handle between host requests. Nothing to do for sqlite.
func (d *Driver) Reset(_ *dbi.Handle) error {
	return nil
}

// stmt returns the compiled statement or a misuse error when the slot is
// empty, e.g. stepping without preparing or after a failed recompile.
func (d *Driver) stmt(h *dbi.Handle, st *dbi.Statement) (engine.Stmt, error) {
	if st.DriverData == nil {
		e := dbi.Errorf(dbi.KindMisuse, excCode, "dbilite: bug: statement %q used while not compiled", st.SQL)
		h.SetException(e)
		return nil, e
	}
	return st.DriverData.(engine.Stmt), nil
}

// reportException records the engine's current error on the handle. An
// allocation failure gets its own kind: the engine is not trustworthy after
// it and the caller is expected to treat it as fatal.
func (d *Driver) reportException(cd *connData) *dbi.Error {
	msg := cd.conn.ErrMsg()
	var e *dbi.Error
	if cd.conn.ErrCode() == engine.NoMem {
		log.Printf("[ERROR] dbilite: SQLITE_NOMEM: %s", msg)
		e = dbi.Errorf(dbi.KindNoMem, excCode, "%s", msg)
	} else {
		e = dbi.Errorf(dbi.KindQuery, excCode, "%s", msg)
	}
	cd.h.SetException(e)
	return e
}
