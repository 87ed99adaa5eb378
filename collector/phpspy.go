// Package collector reads stack traces from phpspy output so they can be
// turned into a pprof profile and exported.
package collector

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRateHz is phpspy's usual sampling rate.
const DefaultRateHz = 400

// Trace represents a complete PHP stack trace with metadata
type Trace struct {
	Frames []StackFrame        // Stack frames in the trace, innermost first
	Tags   map[string][]string // Request info attached by phpspy
	Start  time.Time           // When the sample period began
	End    time.Time           // When the sample period ended
}

// StackFrame represents a single frame in a PHP stack trace
type StackFrame struct {
	Index     int    // Frame position in the stack (0 is most recent)
	Method    string // Name of the PHP function/method
	File      string // Source file path
	StartLine int    // Line number in the source file
}

// Options controls how phpspy output is read.
type Options struct {
	// RateHz is the rate phpspy sampled at; each trace covers 1/RateHz.
	RateHz int
	// Start is when the first sample was taken.
	Start time.Time
	// ExcludePattern drops frames whose line matches it.
	ExcludePattern string
}

var (
	frameRegex = regexp.MustCompile(`^(\d+)\s+(.+)\s+([^:\s]+):(-?\d+)$`) // Matches stack frame lines
	tagRegex   = regexp.MustCompile(`^#\s*(\w+)\s*=\s*(.+)$`)             // Matches general tag lines
	memRegex   = regexp.MustCompile(`^#\s*mem\s+(\d+)\s+(\d+)$`)          // Matches memory usage lines
)

// Parse reads phpspy output from r. Traces are separated by empty lines.
// Sample times are laid out back to back from opts.Start at opts.RateHz.
func Parse(r io.Reader, opts Options) ([]Trace, error) {
	if opts.RateHz <= 0 {
		opts.RateHz = DefaultRateHz
	}
	var exclude *regexp.Regexp
	if opts.ExcludePattern != "" {
		var err error
		if exclude, err = regexp.Compile(opts.ExcludePattern); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
	}
	period := time.Second / time.Duration(opts.RateHz)

	var traces []Trace
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		trace := parseTrace(current, exclude)
		current = nil
		if len(trace.Frames) == 0 {
			log.Debugf("Skipping trace without frames")
			return
		}
		trace.Start = opts.Start.Add(time.Duration(len(traces)) * period)
		trace.End = trace.Start.Add(period)
		traces = append(traces, trace)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Empty line indicates end of current trace
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading phpspy output: %w", err)
	}
	flush()
	return traces, nil
}

// parseTrace converts the lines of a single stack trace into a Trace.
func parseTrace(lines []string, exclude *regexp.Regexp) Trace {
	trace := Trace{Tags: make(map[string][]string)}

	for _, line := range lines {
		if matches := frameRegex.FindStringSubmatch(line); matches != nil {
			if exclude != nil && exclude.MatchString(line) {
				continue
			}
			index, _ := strconv.Atoi(matches[1])
			startLine, _ := strconv.Atoi(matches[4])
			trace.Frames = append(trace.Frames, StackFrame{
				Index:     index,
				Method:    matches[2],
				File:      matches[3],
				StartLine: startLine,
			})
		} else if matches := memRegex.FindStringSubmatch(line); matches != nil {
			trace.Tags["mem"] = []string{matches[1] + " " + matches[2]}
		} else if matches := tagRegex.FindStringSubmatch(line); matches != nil {
			trace.Tags[matches[1]] = []string{matches[2]}
		} else {
			log.Debugf("Ignoring phpspy line %q", line)
		}
	}
	return trace
}
