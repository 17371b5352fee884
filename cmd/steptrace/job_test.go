package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJob(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job.hcl")
	require.NoError(t, os.WriteFile(jobPath, []byte(`
dump         = "symbol.txt"
compute      = "profile.json"
comm         = "/traces/comm.json"
output       = "out"
wait_timeout = "3s"
ignore_ops   = ["Reshape", "broadcast_*"]

loss "l2" {
  dump = "l2.txt"
  head = 1
}
`), 0o644))
	job, err := LoadJob(jobPath)
	require.NoError(t, err)
	require.NoError(t, job.Validate())
	assert.Equal(t, filepath.Join(dir, "symbol.txt"), job.Dump)
	assert.Equal(t, filepath.Join(dir, "profile.json"), job.Compute)
	assert.Equal(t, "/traces/comm.json", job.Comm)
	assert.Equal(t, "", job.IO)
	assert.Equal(t, filepath.Join(dir, "out"), job.Output)
	assert.Equal(t, []string{"Reshape", "broadcast_*"}, job.IgnoreOps)
	require.Len(t, job.Losses, 1)
	assert.Equal(t, "l2", job.Losses[0].Name)
	assert.Equal(t, filepath.Join(dir, "l2.txt"), job.Losses[0].Dump)
	assert.Equal(t, 1, job.Losses[0].Head)

	timeout, err := job.Timeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, timeout)
}

func TestLoadJob_Errors(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job.hcl")
	require.NoError(t, os.WriteFile(jobPath, []byte(`compute = "profile.json"`), 0o644))
	_, err := LoadJob(jobPath)
	require.Error(t, err, "dump is required")

	job := &Job{Dump: "symbol.txt"}
	require.Error(t, job.Validate())
	job.WaitTimeout = "soon"
	_, err = job.Timeout(time.Second)
	require.Error(t, err)
}
