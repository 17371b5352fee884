// steptrace merges the compute, communication and I/O traces of a training run into one
// dependency-annotated trace, and reports where the time of a training step goes.
//
// Usage:
//
//	steptrace -job job.hcl
//	steptrace -dump symbol.txt -compute profile.json -comm comm.json -out ./traces
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/steptrace/pkg/trace/streamsync"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagJob      = flag.String("job", "", "HCL job file describing the inputs. Other flags override its fields.")
	flagDump     = flag.String("dump", "", "Debug dump of the main computation graph.")
	flagLoss     = flag.String("loss", "", "Comma-separated loss sub-graph dumps, each as <file>:<output index>.")
	flagCompute  = flag.String("compute", "", "Compute profiler trace (JSON).")
	flagComm     = flag.String("comm", "", "Communication trace (JSON).")
	flagIO       = flag.String("io", "", "I/O trace (JSON).")
	flagManifest = flag.String("manifest", "", "File with the names of the trainable parameters, one per line in index order.")
	flagOut      = flag.String("out", "", "Output directory for the merged trace and the graph. If empty, nothing is written.")
	flagTimeout  = flag.Duration("timeout", streamsync.DefaultTimeout, "How long to wait for the communication and I/O traces.")
	flagSummary  = flag.Bool("summary", true, "Print per category statistics of the merged trace.")
	flagCritical = flag.Bool("critical_path", false, "Print the critical path of one iteration.")
	flagPlot     = flag.String("plot", "", "Write an HTML timeline plot of the merged trace to this file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'steptrace -help'.", flag.Args())
		os.Exit(1)
	}

	job := must.M1(jobFromFlags())
	if err := job.Validate(); err != nil {
		klog.Errorf("%v. See 'steptrace -help'.", err)
		os.Exit(1)
	}
	result, err := merge(job)
	if err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
	if *flagSummary {
		fmt.Println(report(result))
	}
	if *flagCritical {
		fmt.Println(must.M1(criticalPathReport(result)))
	}
	if *flagPlot != "" {
		must.M(writeTimelinePlot(*flagPlot, result.trace))
		fmt.Printf("\nTimeline plot written to:\t%s\n\n", *flagPlot)
	}
}

// jobFromFlags loads the -job file, if given, and overrides its fields with the flags set.
func jobFromFlags() (*Job, error) {
	job := &Job{}
	if *flagJob != "" {
		var err error
		if job, err = LoadJob(*flagJob); err != nil {
			return nil, err
		}
	}
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dump":
			job.Dump = *flagDump
		case "compute":
			job.Compute = *flagCompute
		case "comm":
			job.Comm = *flagComm
		case "io":
			job.IO = *flagIO
		case "manifest":
			job.Manifest = *flagManifest
		case "out":
			job.Output = *flagOut
		case "timeout":
			job.WaitTimeout = flagTimeout.String()
		case "loss":
			if job.Losses, err = parseLossFlag(*flagLoss); err != nil {
				err = errors.WithMessage(err, "-loss")
			}
		}
	})
	return job, err
}

// parseLossFlag parses "<file>:<head>,<file>:<head>...".
func parseLossFlag(value string) ([]LossHead, error) {
	var losses []LossHead
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, ":")
		if idx < 0 {
			return nil, errors.Errorf("loss %q must be given as <file>:<output index>", part)
		}
		head, err := strconv.Atoi(part[idx+1:])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid output index in loss %q", part)
		}
		losses = append(losses, LossHead{Name: part[:idx], Dump: part[:idx], Head: head})
	}
	return losses, nil
}

// defaultTimeout of the job when neither the job file nor -timeout set it.
const defaultTimeout = streamsync.DefaultTimeout
