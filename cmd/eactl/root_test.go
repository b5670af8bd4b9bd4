package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, "eactl "+version+" ("+commit+")\n", out.String())
}

func TestSeedRequiresFile(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"seed"})

	require.Error(t, cmd.Execute())
}

func TestSeedReportsMissingFile(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"seed", t.TempDir() + "/missing.json"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "read seed file")
}

func TestWriteCountsIsSorted(t *testing.T) {
	var out bytes.Buffer
	writeCounts(&out, map[string]int{"domains": 2, "applications": 10})
	require.Equal(t, "applications             10\ndomains                  2\n", out.String())
}

func TestOptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("EA_DB_DRIVER", "memory")
	t.Setenv("EA_DB_DSN", "postgres://env/ignored")
	t.Setenv("EA_AUTH_SECRET", "s")

	opts := &options{dsn: "postgres://flag/db", logLevel: "error"}
	cfg, err := opts.load()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "postgres://flag/db", cfg.Database.DSN)
	require.Equal(t, "error", cfg.Log.Level)
}
