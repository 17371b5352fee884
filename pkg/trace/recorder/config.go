package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/steptrace/pkg/support/fsutil"
	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/gomlx/steptrace/pkg/trace/readiness"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Switch is an ON/OFF flag as set in the environment. It also accepts the usual boolean
// spellings.
type Switch bool

// Decode implements envconfig.Decoder.
func (s *Switch) Decode(value string) error {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ON", "1", "TRUE", "YES":
		*s = true
	case "OFF", "0", "FALSE", "NO", "":
		*s = false
	default:
		return errors.Errorf("invalid switch value %q, want ON or OFF", value)
	}
	return nil
}

// String implements fmt.Stringer.
func (s Switch) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Config of the trace recorder. It's normally loaded from the environment with LoadConfig.
type Config struct {
	Enabled   Switch `envconfig:"TRACE_ON" default:"OFF"`
	StartStep int    `envconfig:"TRACE_START_STEP" default:"1"`
	EndStep   int    `envconfig:"TRACE_END_STEP" default:"10"`

	// Dir where all trace files are read and written. Relative file names below are
	// relative to it.
	Dir       string `envconfig:"TRACE_DIR"`
	LocalRank string `envconfig:"BYTEPS_LOCAL_RANK" default:"0"`

	// WaitTimeout is how long to wait for the communication and I/O streams.
	WaitTimeout time.Duration `envconfig:"TRACE_WAIT_TIMEOUT" default:"10s"`

	Manifest string `envconfig:"TRACE_MANIFEST" default:"arg_namesINpara_names.txt"`

	// CommFile and IOFile default to "comm_local_rank<r>.json" and "io_local_rank<r>.json".
	// Set them to "-" if the stream isn't produced.
	CommFile string `envconfig:"TRACE_COMM_FILE"`
	IOFile   string `envconfig:"TRACE_IO_FILE"`

	// MaxParallelism of the finalization jobs.
	MaxParallelism int `envconfig:"TRACE_MAX_PARALLELISM" default:"1"`
}

// LoadConfig reads the configuration from the environment. The configuration is
// validated only if tracing is enabled.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrapf(trace.ErrConfiguration, "loading environment: %v", err)
	}
	dir, err := fsutil.ReplaceTildeInDir(cfg.Dir)
	if err != nil {
		return cfg, err
	}
	cfg.Dir = dir
	if cfg.Enabled {
		if err = cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Validate checks the step thresholds.
func (c Config) Validate() error {
	return readiness.ValidateSteps(c.StartStep, c.EndStep)
}

func (c Config) path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

func (c Config) streamPath(name, kind string) string {
	switch name {
	case "-":
		return ""
	case "":
		name = fmt.Sprintf("%s_local_rank%s.json", kind, c.LocalRank)
	}
	return c.path(name)
}

// TracePath of the merged trace file: "bps_trace_local_rank<r>_<end>step.json".
func (c Config) TracePath() string {
	return c.path(fmt.Sprintf("bps_trace_local_rank%s_%dstep.json", c.LocalRank, c.EndStep))
}

// GraphPath of the exported dependency graph.
func (c Config) GraphPath() string { return c.path("dag.dot") }

// ManifestPath of the tracked quantity names.
func (c Config) ManifestPath() string { return c.path(c.Manifest) }

// CommPath of the communication stream, or "" if not produced.
func (c Config) CommPath() string { return c.streamPath(c.CommFile, "comm") }

// IOPath of the I/O stream, or "" if not produced.
func (c Config) IOPath() string { return c.streamPath(c.IOFile, "io") }
