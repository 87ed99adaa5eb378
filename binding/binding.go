// Package binding is the call surface offered to the host interpreter. Hosts
// hand over loosely typed values; every value is type checked here before
// any exporter, token or request is created, and results come back as an
// (ok|error, value) pair.
package binding

import (
	"context"
	"fmt"
	"math"

	"phpScopeExporter/config"
	"phpScopeExporter/exporter"
	"phpScopeExporter/tags"
	"phpScopeExporter/transport"
)

// Family identifies the host runtime to the intake.
const Family = "php"

// Symbol is an interned host identifier such as a working mode.
type Symbol string

const (
	OK    Symbol = "ok"
	Error Symbol = "error"
)

// Reply is the pair returned to the host. Value is nil for a successful
// validation, the HTTP status (uint32) for a successful export, and the
// failure message (string) otherwise.
type Reply struct {
	Status Symbol
	Value  any
}

func reply(res exporter.Result) Reply {
	if !res.OK() {
		return Reply{Status: Error, Value: res.Message()}
	}
	return Reply{Status: OK, Value: res.HTTPStatus()}
}

// TypeError reports an argument of the wrong type.
type TypeError struct {
	Arg      string
	Expected string
	Got      any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: wrong argument type %T (expected %s)", e.Arg, e.Got, e.Expected)
}

// RangeError reports an integer argument that does not fit its native type.
type RangeError struct {
	Arg   string
	Value any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: integer %v out of range", e.Arg, e.Value)
}

// Binding serves host calls with one Transport.
type Binding struct {
	transport *transport.Transport
}

// New returns a Binding reporting rejected tags to reporter.
func New(reporter tags.Reporter) *Binding {
	return &Binding{transport: transport.New(Family, reporter)}
}

// ValidateExporter checks that configuration can be used to build an
// exporter. It returns (ok, nil) or (error, message); malformed arguments
// are returned as errors.
func (b *Binding) ValidateExporter(configuration any) (Reply, error) {
	cfg, err := parseConfiguration(configuration)
	if err != nil {
		return Reply{}, err
	}
	res, err := b.transport.ValidateExporter(cfg)
	if err != nil {
		return Reply{}, err
	}
	if !res.OK() {
		return reply(res), nil
	}
	return Reply{Status: OK}, nil
}

// DoExport uploads one profile and returns (ok, http status) or
// (error, message). ctx is the host's interrupt for the calling thread.
func (b *Binding) DoExport(
	ctx context.Context,
	configuration any,
	uploadTimeoutMillis any,
	startSeconds any,
	startNanoseconds any,
	finishSeconds any,
	finishNanoseconds any,
	pprofFileName any,
	pprofData any,
	codeProvenanceFileName any,
	codeProvenanceData any,
	tagsAsArray any,
) (Reply, error) {
	cfg, err := parseConfiguration(configuration)
	if err != nil {
		return Reply{}, err
	}
	pairs, err := parseTags(tagsAsArray)
	if err != nil {
		return Reply{}, err
	}

	e := transport.Export{Configuration: cfg, Tags: pairs}
	a := args{}
	e.TimeoutMillis = a.uint64("upload_timeout_milliseconds", uploadTimeoutMillis)
	e.Start.Seconds = a.int64("start_timespec_seconds", startSeconds)
	e.Start.Nanoseconds = a.uint32("start_timespec_nanoseconds", startNanoseconds)
	e.Finish.Seconds = a.int64("finish_timespec_seconds", finishSeconds)
	e.Finish.Nanoseconds = a.uint32("finish_timespec_nanoseconds", finishNanoseconds)
	e.Profile.Name = a.string("pprof_file_name", pprofFileName)
	e.Profile.Data = a.bytes("pprof_data", pprofData)
	provenanceName := a.string("code_provenance_file_name", codeProvenanceFileName)
	// Code provenance can be disabled, in which case the data is nil.
	if codeProvenanceData != nil {
		e.CodeProvenance = &exporter.File{
			Name: provenanceName,
			Data: a.bytes("code_provenance_data", codeProvenanceData),
		}
	}
	if a.err != nil {
		return Reply{}, a.err
	}

	res, err := b.transport.DoExport(ctx, e)
	if err != nil {
		return Reply{}, err
	}
	return reply(res), nil
}

func parseConfiguration(configuration any) (config.Configuration, error) {
	tuple, ok := configuration.([]any)
	if !ok {
		return config.Configuration{}, &TypeError{Arg: "exporter_configuration", Expected: "Array", Got: configuration}
	}
	return config.ParseConfiguration(tuple, func(v any) (config.Mode, bool) {
		s, ok := v.(Symbol)
		return config.Mode(s), ok
	})
}

func parseTags(tagsAsArray any) ([]tags.Pair, error) {
	entries, ok := tagsAsArray.([]any)
	if !ok {
		return nil, &TypeError{Arg: "tags_as_array", Expected: "Array", Got: tagsAsArray}
	}
	pairs := make([]tags.Pair, 0, len(entries))
	for i, entry := range entries {
		pair, ok := entry.([]any)
		if !ok {
			return nil, &TypeError{Arg: fmt.Sprintf("tags_as_array[%d]", i), Expected: "Array", Got: entry}
		}
		var name, value any
		if len(pair) > 0 {
			name = pair[0]
		}
		if len(pair) > 1 {
			value = pair[1]
		}
		n, ok := name.(string)
		if !ok {
			return nil, &TypeError{Arg: fmt.Sprintf("tags_as_array[%d] name", i), Expected: "String", Got: name}
		}
		v, ok := value.(string)
		if !ok {
			return nil, &TypeError{Arg: fmt.Sprintf("tags_as_array[%d] value", i), Expected: "String", Got: value}
		}
		pairs = append(pairs, tags.Pair{Name: n, Value: v})
	}
	return pairs, nil
}

// args converts host values, keeping the first error.
type args struct {
	err error
}

func (a *args) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *args) integer(name string, v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint:
		return a.unsigned(name, uint64(n))
	case uint64:
		return a.unsigned(name, n)
	default:
		a.fail(&TypeError{Arg: name, Expected: "Integer", Got: v})
		return 0, false
	}
}

func (a *args) unsigned(name string, n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		a.fail(&RangeError{Arg: name, Value: n})
		return 0, false
	}
	return int64(n), true
}

func (a *args) int64(name string, v any) int64 {
	n, _ := a.integer(name, v)
	return n
}

func (a *args) uint64(name string, v any) uint64 {
	n, ok := a.integer(name, v)
	if ok && n < 0 {
		a.fail(&RangeError{Arg: name, Value: n})
		return 0
	}
	return uint64(n)
}

func (a *args) uint32(name string, v any) uint32 {
	n, ok := a.integer(name, v)
	if ok && (n < 0 || n > math.MaxUint32) {
		a.fail(&RangeError{Arg: name, Value: n})
		return 0
	}
	return uint32(n)
}

func (a *args) string(name string, v any) string {
	s, ok := v.(string)
	if !ok {
		a.fail(&TypeError{Arg: name, Expected: "String", Got: v})
	}
	return s
}

// bytes accepts host strings as either string or []byte.
func (a *args) bytes(name string, v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		a.fail(&TypeError{Arg: name, Expected: "String", Got: v})
		return nil
	}
}
