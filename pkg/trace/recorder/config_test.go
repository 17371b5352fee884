package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TRACE_ON", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, bool(cfg.Enabled))
	assert.Equal(t, 1, cfg.StartStep)
	assert.Equal(t, 10, cfg.EndStep)
	assert.Equal(t, "0", cfg.LocalRank)
	assert.Equal(t, 10*time.Second, cfg.WaitTimeout)
	assert.Equal(t, "bps_trace_local_rank0_10step.json", cfg.TracePath())
	assert.Equal(t, "arg_namesINpara_names.txt", cfg.ManifestPath())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACE_ON", "ON")
	t.Setenv("TRACE_START_STEP", "2")
	t.Setenv("TRACE_END_STEP", "5")
	t.Setenv("TRACE_DIR", dir)
	t.Setenv("BYTEPS_LOCAL_RANK", "3")
	t.Setenv("TRACE_WAIT_TIMEOUT", "250ms")
	t.Setenv("TRACE_IO_FILE", "-")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, bool(cfg.Enabled))
	assert.Equal(t, "ON", cfg.Enabled.String())
	assert.Equal(t, 250*time.Millisecond, cfg.WaitTimeout)
	assert.Equal(t, filepath.Join(dir, "bps_trace_local_rank3_5step.json"), cfg.TracePath())
	assert.Equal(t, filepath.Join(dir, "dag.dot"), cfg.GraphPath())
	assert.Equal(t, filepath.Join(dir, "comm_local_rank3.json"), cfg.CommPath())
	assert.Equal(t, "", cfg.IOPath())

	t.Setenv("TRACE_COMM_FILE", "/abs/comm.json")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/abs/comm.json", cfg.CommPath())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("TRACE_ON", "ON")
	t.Setenv("TRACE_START_STEP", "5")
	t.Setenv("TRACE_END_STEP", "5")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrConfiguration))

	// Invalid thresholds are fine while tracing is off.
	t.Setenv("TRACE_ON", "OFF")
	_, err = LoadConfig()
	require.NoError(t, err)

	t.Setenv("TRACE_ON", "maybe")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrConfiguration))
}
