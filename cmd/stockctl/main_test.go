package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunUsage(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://unused")

	stderr := new(bytes.Buffer)
	require.Equal(t, 2, run(context.Background(), nil, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), "usage: stockctl")

	stdout := new(bytes.Buffer)
	require.Zero(t, run(context.Background(), []string{"help"}, stdout, new(bytes.Buffer)))
	require.Contains(t, stdout.String(), "audit")

	stderr.Reset()
	require.Equal(t, 2, run(context.Background(), []string{"rebuild"}, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), `unknown command "rebuild"`)
}

func TestRunRejectsBadFlags(t *testing.T) {
	stderr := new(bytes.Buffer)
	require.Equal(t, 2, run(context.Background(), []string{"audit", "-location", "abc"}, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), "invalid value")
}

func TestRunFailsOnBadConfig(t *testing.T) {
	t.Setenv("PRODUCTION_WAREHOUSE_ID", "0")
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, run(context.Background(), []string{"queue"}, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), "load config")
}
