package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"phpScopeExporter/binding"
	"phpScopeExporter/collector"
	"phpScopeExporter/converter"
	"phpScopeExporter/exporter"
	"phpScopeExporter/transport"
)

const runtimeIDTag = "runtime-id"

type exportCmd struct {
	*cliConfig
	in  io.Reader
	out io.Writer

	// User-specified command line arguments.
	profile        string
	phpspy         string
	rateHz         int
	exclude        string
	codeProvenance string
	start          timeFlag
	finish         timeFlag
}

func newExportCmd(out io.Writer) *ffcli.Command {
	cmd := exportCmd{cliConfig: newCLIConfig(), in: os.Stdin, out: out}
	set := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.register(set)
	set.StringVar(&cmd.codeProvenance, "code-provenance", "", codeProvenanceHelp)
	set.StringVar(&cmd.exclude, "exclude", "", excludeHelp)
	set.Var(&cmd.finish, "finish", finishHelp)
	set.StringVar(&cmd.phpspy, "phpspy", "", phpspyHelp)
	set.StringVar(&cmd.profile, "profile", "", profileHelp)
	set.IntVar(&cmd.rateHz, "rate-hz", collector.DefaultRateHz, rateHzHelp)
	set.Var(&cmd.start, "start", startHelp)
	return &ffcli.Command{
		Name:       "export",
		ShortUsage: "export -profile <file> | -phpspy <file|-> [flags]",
		ShortHelp:  "Upload one pprof profile",
		FlagSet:    set,
		Options:    options(),
		Exec:       cmd.exec,
	}
}

func (cmd *exportCmd) exec(ctx context.Context, _ []string) error {
	if (cmd.profile == "") == (cmd.phpspy == "") {
		return errors.New("please pass either `-profile` or `-phpspy` (but not both)")
	}
	endpoint := cmd.prepare(cmd.out, "export")

	e, err := cmd.build()
	if err != nil {
		return err
	}
	e.Configuration = endpoint

	res, err := transport.New(binding.Family, nil).DoExport(ctx, e)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("upload failed: %s", res.Message())
	}
	if status := res.HTTPStatus(); status/100 != 2 {
		return fmt.Errorf("upload rejected with HTTP status %d", status)
	}
	fmt.Fprintf(cmd.out, "✅ Profile uploaded (HTTP %d)\n", res.HTTPStatus())
	return nil
}

// build reads the files named on the command line into an export.
func (cmd *exportCmd) build() (transport.Export, error) {
	data, err := cmd.readProfile()
	if err != nil {
		return transport.Export{}, err
	}
	summary, err := converter.Inspect(data, cmd.cfg.Debug)
	if err != nil {
		return transport.Export{}, err
	}

	start, finish := cmd.timeRange(summary, time.Now())
	if finish.Before(start) {
		return transport.Export{}, fmt.Errorf("finish %v is before start %v", finish, start)
	}

	if _, ok := cmd.cfg.Tags[runtimeIDTag]; !ok {
		cmd.cfg.Tags[runtimeIDTag] = uuid.NewString()
	}

	e := transport.Export{
		TimeoutMillis: cmd.timeoutMillis(),
		Start:         exporter.TimespecOf(start),
		Finish:        exporter.TimespecOf(finish),
		Profile:       exporter.File{Name: converter.ProfileFileName, Data: data},
		Tags:          cmd.pairs(),
	}

	if cmd.codeProvenance != "" {
		doc, err := os.ReadFile(cmd.codeProvenance)
		if err != nil {
			return transport.Export{}, fmt.Errorf("failed to read code provenance: %w", err)
		}
		compressed, err := converter.CompressProvenance(doc)
		if err != nil {
			return transport.Export{}, err
		}
		e.CodeProvenance = &exporter.File{Name: converter.ProvenanceFileName, Data: compressed}
	}

	log.Debugf("Exporting %d samples (%v) from %v to %v",
		summary.Samples, summary.SampleTypes, start, finish)
	return e, nil
}

// readProfile returns gzipped pprof, either read from -profile or converted
// from the phpspy traces in -phpspy.
func (cmd *exportCmd) readProfile() ([]byte, error) {
	if cmd.profile != "" {
		raw, err := os.ReadFile(cmd.profile)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		return converter.Normalize(raw)
	}

	in := cmd.in
	if cmd.phpspy != "-" {
		f, err := os.Open(cmd.phpspy)
		if err != nil {
			return nil, fmt.Errorf("failed to open phpspy output: %w", err)
		}
		defer f.Close()
		in = f
	}

	// phpspy output carries no timestamps: the samples are taken to end now.
	traces, err := collector.Parse(in, collector.Options{
		RateHz:         cmd.rateHz,
		ExcludePattern: cmd.exclude,
	})
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, errors.New("no traces found in phpspy output")
	}
	first := traces[0].Start
	base := time.Now().Add(-traces[len(traces)-1].End.Sub(first))
	for i := range traces {
		traces[i].Start = base.Add(traces[i].Start.Sub(first))
		traces[i].End = base.Add(traces[i].End.Sub(first))
	}
	return converter.Encode(converter.FromTraces(traces, cmd.rateHz, cmd.cfg.Debug))
}

// timeRange picks the period to report: explicit flags first, then the
// profile's own timing, then now.
func (cmd *exportCmd) timeRange(summary converter.Summary, now time.Time) (start, finish time.Time) {
	start, finish = summary.Start, summary.Finish
	if start.IsZero() {
		start, finish = now, now
	}
	if !cmd.start.t.IsZero() {
		start = cmd.start.t
	}
	if !cmd.finish.t.IsZero() {
		finish = cmd.finish.t
	}
	return start, finish
}
