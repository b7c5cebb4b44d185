package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseArgs(t *testing.T, args []string) (*flags.Parser, options) {
	var opts options
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	_, err := p.ParseArgs(args)
	require.NoError(t, err)
	return p, opts
}

func TestKvCommands(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "kv-test.db")
	setupLog(true)

	tests := []struct {
		name      string
		args      []string
		wantLog   string
		wantError bool
	}{
		{
			name:    "set secret",
			args:    []string{"--key", "secretkey", "--conn", dbFile, "set", "key1", "value1"},
			wantLog: "set command, key=key1",
		},
		{
			name:      "set secret, no value",
			args:      []string{"--key", "secretkey", "--conn", dbFile, "set", "key1"},
			wantLog:   "set command, key=key1",
			wantError: true,
		},
		{
			name:    "get secret",
			args:    []string{"--key", "secretkey", "--conn", dbFile, "get", "key1"},
			wantLog: "get command, key=key1\nkey=key1, value=value1",
		},
		{
			name:      "get non-existent secret",
			args:      []string{"--key", "secretkey", "--conn", dbFile, "get", "key2"},
			wantLog:   "get command, key=key2",
			wantError: true,
		},
		{
			name:      "get with wrong store key",
			args:      []string{"--key", "otherkey", "--conn", dbFile, "get", "key1"},
			wantLog:   "get command, key=key1",
			wantError: true,
		},
		{
			name:    "list secrets",
			args:    []string{"--key", "secretkey", "--conn", dbFile, "list", "key"},
			wantLog: `list command, key-prefix="key"`,
		},
		{
			name:    "delete secret",
			args:    []string{"--key", "secretkey", "--conn", dbFile, "del", "key1"},
			wantLog: "del command, key=key1\nkey=key1 deleted",
		},
		{
			name:      "delete non-existent secret",
			args:      []string{"--key", "secretkey", "--conn", dbFile, "del", "key1"},
			wantLog:   "del command, key=key1",
			wantError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, opts := parseArgs(t, tc.args)
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			err := run(p, opts)
			if tc.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			for _, exp := range strings.Split(tc.wantLog, "\n") {
				assert.Contains(t, buf.String(), exp)
			}
		})
	}
}

func TestKvRoundTrip(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "kv-test.db")

	for _, kv := range [][2]string{{"db/pass", "p1"}, {"db/user", "u1"}, {"token", "t1"}} {
		p, opts := parseArgs(t, []string{"--key", "secretkey", "--conn", dbFile, "set", kv[0], kv[1]})
		require.NoError(t, run(p, opts))
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	p, opts := parseArgs(t, []string{"--key", "secretkey", "--conn", dbFile, "get", "db/pass"})
	require.NoError(t, run(p, opts))
	assert.Contains(t, buf.String(), "key=db/pass, value=p1")
}
