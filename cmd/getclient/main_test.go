package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stratus/internal/aggregator"
	"github.com/dreamware/stratus/internal/client"
	"github.com/dreamware/stratus/internal/snapshot"
)

func startAggregator(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := aggregator.DefaultConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Snapshot = snapshot.Files{
		DatabasePath: filepath.Join(dir, "database.json"),
		ArchivePath:  filepath.Join(dir, "archive.json"),
	}
	srv, err := aggregator.New(cfg)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { srv.Close() })
	return srv.Addr().String()
}

func TestRunArguments(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out), client.ErrMissingArgs)
	assert.ErrorIs(t, run(context.Background(), []string{"localhost:4567", "A0", "A1"}, &out), client.ErrInvalidArgs)
	assert.Empty(t, out.String())
}

func TestRunPrintsResponse(t *testing.T) {
	addr := startAggregator(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{addr, "A0"}, &out))
	assert.Contains(t, out.String(), "HTTP/1.1 404 Not Found\r\n")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{addr}, &out))
	assert.Contains(t, out.String(), "HTTP/1.1 204 No Content\r\n")
}
