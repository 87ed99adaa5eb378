package exporter

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"time"
)

// DefaultTimeout applies to requests built with a zero timeout.
const DefaultTimeout = 30 * time.Second

const formatVersion = "3"

// Timespec is a point in time split into seconds and nanoseconds, as handed
// over by hosts without a native 64-bit nanosecond clock.
type Timespec struct {
	Seconds     int64
	Nanoseconds uint32
}

// Time converts ts to a time.Time.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanoseconds)).UTC()
}

// TimespecOf splits t into a Timespec.
func TimespecOf(t time.Time) Timespec {
	return Timespec{Seconds: t.Unix(), Nanoseconds: uint32(t.Nanosecond())}
}

// File is one named payload of an upload.
type File struct {
	Name string
	Data []byte
}

// RequestSpec describes a request to build.
type RequestSpec struct {
	Start         Timespec
	Finish        Timespec
	Files         []File
	TimeoutMillis uint64
}

// Request is an encoded upload. It belongs to the Exporter that built it:
// Send consumes it and Close drops it if it was never sent.
type Request struct {
	files       []string
	body        []byte
	contentType string
	timeout     time.Duration
}

// Files returns the names of the uploaded files in encoding order.
func (r *Request) Files() []string { return r.files }

// Timeout returns the time allowed for the upload.
func (r *Request) Timeout() time.Duration { return r.timeout }

func (r *Request) release() {
	r.body = nil
}

// Build encodes spec into a Request ready to be sent with e.
func (e *Exporter) Build(spec RequestSpec) (*Request, error) {
	if len(spec.Files) == 0 {
		return nil, errors.New("building request: no files to upload")
	}
	for _, ts := range []Timespec{spec.Start, spec.Finish} {
		if ts.Nanoseconds >= uint32(time.Second) {
			return nil, fmt.Errorf("building request: nanoseconds %d out of range", ts.Nanoseconds)
		}
	}

	timeout := durationOfMillis(spec.TimeoutMillis)
	if spec.TimeoutMillis == 0 {
		timeout = DefaultTimeout
	}

	req := &Request{timeout: timeout}
	body, contentType, err := e.encode(spec)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.body, req.contentType = body, contentType
	for _, f := range spec.Files {
		req.files = append(req.files, f.Name)
	}

	if err := e.register(req); err != nil {
		return nil, err
	}
	return req, nil
}

// durationOfMillis converts ms to a Duration, saturating at the longest
// representable one.
func durationOfMillis(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return math.MaxInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// encode writes the multipart form: metadata fields first, then one part per
// file in the given order.
func (e *Exporter) encode(spec RequestSpec) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writeField := func(k, v string) {
		if err == nil {
			err = writer.WriteField(k, v)
		}
	}
	writeField("version", formatVersion)
	writeField("start", spec.Start.Time().Format(time.RFC3339Nano))
	writeField("end", spec.Finish.Time().Format(time.RFC3339Nano))
	writeField("family", e.family)
	for _, tag := range e.tags {
		writeField("tags[]", tag.String())
	}
	if err != nil {
		return nil, "", fmt.Errorf("writing fields: %w", err)
	}

	for _, f := range spec.Files {
		part, err := writer.CreateFormFile("data["+f.Name+"]", f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("creating %s part: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("writing %s data: %w", f.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
