package converter

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"

	"phpScopeExporter/collector"
)

// FromTraces converts PHP stack traces to pprof format.
// Parameters:
//   - traces: Slice of PHP stack traces to convert
//   - sampleRate: Number of samples collected per second
//   - debug: Enable detailed logging of conversion process
//
// Returns nil if no traces are provided.
func FromTraces(traces []collector.Trace, sampleRate int, debug bool) *profile.Profile {
	samplesCount := int64(len(traces))
	if samplesCount == 0 {
		return nil
	}

	firstSampleTime := traces[0].Start
	lastSampleTime := traces[len(traces)-1].End
	actualDuration := lastSampleTime.Sub(firstSampleTime)

	if debug {
		log.Debugf("Batch stats: start=%v end=%v duration=%v samples=%d rate=%d/s",
			firstSampleTime.Format(time.RFC3339Nano),
			lastSampleTime.Format(time.RFC3339Nano),
			actualDuration,
			samplesCount,
			sampleRate)
	}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "wall", Unit: "nanoseconds"},
			{Type: "samples", Unit: "count"},
		},
		TimeNanos:     firstSampleTime.UnixNano(),
		DurationNanos: actualDuration.Nanoseconds(),
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        actualDuration.Nanoseconds() / samplesCount,
	}

	// Functions are keyed by method and file, locations additionally by line.
	functions := make(map[string]*profile.Function)
	locations := make(map[string]*profile.Location)

	for _, trace := range traces {
		var sampleLocations []*profile.Location

		for _, frame := range trace.Frames {
			functionKey := frame.Method + "\x00" + frame.File
			fn, ok := functions[functionKey]
			if !ok {
				fn = &profile.Function{
					ID:         uint64(len(prof.Function) + 1),
					Name:       frame.Method,
					SystemName: frame.Method,
					Filename:   frame.File,
					StartLine:  int64(frame.StartLine),
				}
				functions[functionKey] = fn
				prof.Function = append(prof.Function, fn)
			}

			locationKey := fmt.Sprintf("%s:%d", functionKey, frame.StartLine)
			loc, ok := locations[locationKey]
			if !ok {
				loc = &profile.Location{
					ID:   uint64(len(prof.Location) + 1),
					Line: []profile.Line{{Function: fn, Line: int64(frame.StartLine)}},
				}
				locations[locationKey] = loc
				prof.Location = append(prof.Location, loc)
			}

			sampleLocations = append(sampleLocations, loc)
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: sampleLocations,
			Value:    []int64{trace.End.Sub(trace.Start).Nanoseconds(), 1},
			Label:    trace.Tags,
		})
	}

	return prof
}
