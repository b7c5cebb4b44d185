package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naviserver-project/nsdbilite/pkg/engine"
)

func openConn(t *testing.T) *Conn {
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	return c
}

// runs sql that takes no parameters and returns no rows
func mustExec(t *testing.T, c *Conn, sql string) {
	st, err := c.Prepare(sql, len(sql))
	require.NoError(t, err)
	require.Equal(t, engine.Done, st.Step(), "sql: %s, err: %s", sql, c.ErrMsg())
	require.NoError(t, st.Finalize())
}

func TestOpenClose(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestConn_PrepareError(t *testing.T) {
	c := openConn(t)

	_, err := c.Prepare("bogus sql", len("bogus sql"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestConn_PrepareEmpty(t *testing.T) {
	c := openConn(t)

	sql := "-- nothing to compile"
	_, err := c.Prepare(sql, len(sql))
	require.Error(t, err, "comment-only input compiles to no statement")
}

func TestStmt_BindStepColumns(t *testing.T) {
	c := openConn(t)
	mustExec(t, c, "CREATE TABLE t (a TEXT, b BLOB, c INTEGER)")

	ins := "INSERT INTO t VALUES (?, ?, ?)"
	st, err := c.Prepare(ins, len(ins))
	require.NoError(t, err)
	assert.Equal(t, 3, st.ParamCount())
	assert.Equal(t, 0, st.ColumnCount())

	require.NoError(t, st.BindText(1, []byte("hello")))
	require.NoError(t, st.BindBlob(2, []byte{0xde, 0xad}))
	require.NoError(t, st.BindNull(3))
	require.Equal(t, engine.Done, st.Step(), c.ErrMsg())
	require.NoError(t, st.Finalize())

	sel := "SELECT a, b, c FROM t"
	st, err = c.Prepare(sel, len(sel))
	require.NoError(t, err)
	defer st.Finalize() // nolint
	assert.Equal(t, 0, st.ParamCount())
	assert.Equal(t, 3, st.ColumnCount())

	require.Equal(t, engine.Row, st.Step(), c.ErrMsg())

	name, ok := st.ColumnName(0)
	require.True(t, ok)
	assert.Equal(t, "a", name)

	assert.Equal(t, engine.Text, st.ColumnType(0))
	assert.Equal(t, 5, st.ColumnBytes(0))
	assert.Equal(t, "hello", string(st.ColumnRaw(0)))

	assert.Equal(t, engine.Blob, st.ColumnType(1))
	assert.Equal(t, []byte{0xde, 0xad}, st.ColumnRaw(1))

	assert.Equal(t, engine.Null, st.ColumnType(2))
	assert.Equal(t, 0, st.ColumnBytes(2))
	assert.Nil(t, st.ColumnRaw(2))

	require.Equal(t, engine.Done, st.Step())
}

func TestStmt_ResetReruns(t *testing.T) {
	c := openConn(t)

	sql := "SELECT ?"
	st, err := c.Prepare(sql, len(sql))
	require.NoError(t, err)
	defer st.Finalize() // nolint

	require.NoError(t, st.BindText(1, []byte("first")))
	require.Equal(t, engine.Row, st.Step())
	assert.Equal(t, "first", string(st.ColumnRaw(0)))
	require.Equal(t, engine.Done, st.Step())

	// reset keeps the bindings, the rerun yields the same row
	require.NoError(t, st.Reset())
	require.Equal(t, engine.Row, st.Step())
	assert.Equal(t, "first", string(st.ColumnRaw(0)))

	// rebinding after reset replaces the value
	require.NoError(t, st.Reset())
	require.NoError(t, st.BindText(1, []byte("second")))
	require.Equal(t, engine.Row, st.Step())
	assert.Equal(t, "second", string(st.ColumnRaw(0)))
}

func TestStmt_ZeroLengthValues(t *testing.T) {
	c := openConn(t)

	sql := "SELECT ?, ?"
	st, err := c.Prepare(sql, len(sql))
	require.NoError(t, err)
	defer st.Finalize() // nolint

	// zero-length text and blob must stay distinguishable from NULL
	require.NoError(t, st.BindText(1, []byte{}))
	require.NoError(t, st.BindBlob(2, []byte{}))
	require.Equal(t, engine.Row, st.Step(), c.ErrMsg())

	assert.Equal(t, engine.Text, st.ColumnType(0))
	assert.Equal(t, 0, st.ColumnBytes(0))
	assert.Equal(t, engine.Blob, st.ColumnType(1))
	assert.Equal(t, 0, st.ColumnBytes(1))
}

func TestStmt_ErrCode(t *testing.T) {
	c := openConn(t)
	mustExec(t, c, "CREATE TABLE u (k TEXT PRIMARY KEY)")
	mustExec(t, c, "INSERT INTO u VALUES ('x')")

	sql := "INSERT INTO u VALUES ('x')"
	st, err := c.Prepare(sql, len(sql))
	require.NoError(t, err)
	defer st.Finalize() // nolint

	rc := st.Step()
	assert.NotEqual(t, engine.Done, rc, "duplicate key must fail")
	assert.Contains(t, c.ErrMsg(), "UNIQUE constraint failed")
}
