package main

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/pkg/errors"
)

// Job describes one offline merge. It's read from an HCL file, e.g.:
//
//	dump     = "symbol.txt"
//	compute  = "profile.json"
//	comm     = "comm_local_rank0.json"
//	manifest = "arg_namesINpara_names.txt"
//	output   = "out"
//
//	loss "l2" {
//	  dump = "l2_symbol.txt"
//	  head = 1
//	}
//
// Relative paths are relative to the job file's directory.
type Job struct {
	Dump        string     `hcl:"dump"`
	Compute     string     `hcl:"compute"`
	Comm        string     `hcl:"comm,optional"`
	IO          string     `hcl:"io,optional"`
	Manifest    string     `hcl:"manifest,optional"`
	Output      string     `hcl:"output,optional"`
	DataMarker  string     `hcl:"data_marker,optional"`
	WaitTimeout string     `hcl:"wait_timeout,optional"`
	IgnoreOps   []string   `hcl:"ignore_ops,optional"`
	Losses      []LossHead `hcl:"loss,block"`
}

// LossHead is an auxiliary loss sub-graph spliced into the main graph's output Head.
type LossHead struct {
	Name string `hcl:"name,label"`
	Dump string `hcl:"dump"`
	Head int    `hcl:"head,optional"`
}

// LoadJob decodes the HCL job file at filePath.
func LoadJob(filePath string) (*Job, error) {
	job := &Job{}
	if err := hclsimple.DecodeFile(filePath, nil, job); err != nil {
		return nil, errors.Wrapf(err, "failed to decode job file %q", filePath)
	}
	baseDir := filepath.Dir(filePath)
	for _, p := range []*string{&job.Dump, &job.Compute, &job.Comm, &job.IO, &job.Manifest, &job.Output} {
		*p = resolve(baseDir, *p)
	}
	for i := range job.Losses {
		job.Losses[i].Dump = resolve(baseDir, job.Losses[i].Dump)
	}
	return job, nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Timeout parses WaitTimeout, returning def if not set.
func (j *Job) Timeout(def time.Duration) (time.Duration, error) {
	if j.WaitTimeout == "" {
		return def, nil
	}
	d, err := time.ParseDuration(j.WaitTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid wait_timeout %q", j.WaitTimeout)
	}
	return d, nil
}

// Validate checks the required fields.
func (j *Job) Validate() error {
	if j.Dump == "" {
		return errors.New("missing debug dump: set -dump or \"dump\" in the job file")
	}
	if j.Compute == "" {
		return errors.New("missing compute trace: set -compute or \"compute\" in the job file")
	}
	return nil
}
