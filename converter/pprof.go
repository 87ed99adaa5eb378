package converter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"
)

// Summary describes a pprof payload about to be uploaded.
type Summary struct {
	SampleTypes []string
	Samples     int
	Start       time.Time
	Finish      time.Time
}

// Inspect parses and validates pprof data, gzipped or not, and derives the
// time range it covers from the profile's own timing information.
// Parameters:
//   - data: Encoded pprof profile
//   - debug: Enable detailed logging of the profile contents
//
// The returned Start and Finish are zero when the profile does not record
// when it was taken.
func Inspect(data []byte, debug bool) (Summary, error) {
	prof, err := profile.ParseData(data)
	if err != nil {
		return Summary{}, fmt.Errorf("parsing profile: %w", err)
	}
	if err := prof.CheckValid(); err != nil {
		return Summary{}, fmt.Errorf("invalid profile: %w", err)
	}

	summary := Summary{Samples: len(prof.Sample)}
	for _, st := range prof.SampleType {
		summary.SampleTypes = append(summary.SampleTypes, st.Type+"/"+st.Unit)
	}
	if prof.TimeNanos != 0 {
		summary.Start = time.Unix(0, prof.TimeNanos).UTC()
		summary.Finish = summary.Start.Add(time.Duration(prof.DurationNanos))
	}

	if debug {
		log.Debugf("Profile stats: start=%v end=%v duration=%v samples=%d types=%v",
			summary.Start.Format(time.RFC3339Nano),
			summary.Finish.Format(time.RFC3339Nano),
			time.Duration(prof.DurationNanos),
			summary.Samples,
			summary.SampleTypes)
	}
	return summary, nil
}

// Encode serializes prof as gzipped pprof, the form the intake expects.
func Encode(prof *profile.Profile) ([]byte, error) {
	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, fmt.Errorf("writing profile: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize returns data as gzipped pprof, re-encoding it when it was
// written uncompressed.
func Normalize(data []byte) ([]byte, error) {
	if IsGzip(data) {
		return data, nil
	}
	prof, err := profile.ParseData(data)
	if err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return Encode(prof)
}

// IsGzip reports whether data starts with the gzip magic number.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
