package lite

import (
	"fmt"
	"log"
	"runtime"

	"github.com/naviserver-project/nsdbilite/pkg/dbi"
	"github.com/naviserver-project/nsdbilite/pkg/engine"
)

// RetryPolicy controls stepping under lock contention: up to Attempts tries,
// calling Yield between them. The default yield is a cooperative scheduler
// yield with no sleep, trading CPU for low latency while another writer
// holds a short-lived lock.
type RetryPolicy struct {
	Attempts int
	Yield    func()
}

// NewRetryPolicy makes a policy with the given attempt budget and the
// default yield.
func NewRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Yield: runtime.Gosched}
}

// step advances the compiled statement by one row, applying the retry policy
// on SQLITE_BUSY and the recompile policy on SQLITE_SCHEMA. It returns Row
// or Done, or an error; the retry budget is fresh on every call, it bounds a
// single logical operation.
func (d *Driver) step(h *dbi.Handle, st *dbi.Statement) (engine.Code, error) {
	cd := h.DriverData.(*connData)
	es, err := d.stmt(h, st)
	if err != nil {
		return 0, err
	}

	// yield on every busy step, the last one included
	retries := d.retry.Attempts
	var rc engine.Code
	for {
		if rc = es.Step(); rc != engine.Busy {
			break
		}
		d.retry.Yield()
		retries--
		if retries <= 0 {
			break
		}
	}

	switch rc {
	case engine.Row, engine.Done:
		return rc, nil

	case engine.Busy:
		e := &dbi.Error{
			Kind:    dbi.KindBusyExhausted,
			Code:    excCode,
			Msg:     fmt.Sprintf("dbilite: error executing statement: database still busy after %d retries", d.retry.Attempts),
			Retries: d.retry.Attempts,
		}
		h.SetException(e)
		return 0, e

	case engine.Misuse:
		e := dbi.Errorf(dbi.KindMisuse, excCode, "dbilite: bug: SQLITE_MISUSE")
		h.SetException(e)
		return 0, e

	case engine.Schema:
		return 0, d.reprepare(h, st, es)

	default:
		return 0, d.reportException(cd)
	}
}

// reprepare handles a statement invalidated by a schema change: the stale
// compiled form is finalized and the original query text compiled again.
// Recompilation only restores the statement to a usable state, it does not
// replay the interrupted step, so the schema error is still reported for
// this attempt, marked retryable. A failed recompile leaves the slot empty
// and the statement unusable until prepared afresh.
func (d *Driver) reprepare(h *dbi.Handle, st *dbi.Statement, stale engine.Stmt) error {
	cd := h.DriverData.(*connData)
	msg := cd.conn.ErrMsg()

	st.DriverData = nil
	if err := stale.Finalize(); err != nil {
		log.Printf("[WARN] dbilite: error finalizing stale statement: %v", err)
	}

	es, err := cd.conn.Prepare(st.SQL, st.Length)
	if err != nil {
		e := dbi.Errorf(dbi.KindReprepare, excCode,
			"dbilite: reprepare after schema change failed: %v", err)
		h.SetException(e)
		return e
	}
	st.NumParams = es.ParamCount()
	st.NumCols = es.ColumnCount()
	st.DriverData = es

	e := &dbi.Error{Kind: dbi.KindQuery, Code: excCode, Msg: msg, Retryable: true}
	h.SetException(e)
	return e
}
