package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phpScopeExporter/converter"
)

// agent records the multipart forms it receives.
type agent struct {
	*httptest.Server
	mu    sync.Mutex
	forms []map[string][]string
	files [][]string
}

func newAgent(t *testing.T, status int) *agent {
	a := &agent{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var files []string
		for field := range r.MultipartForm.File {
			files = append(files, field)
		}
		a.mu.Lock()
		a.forms = append(a.forms, r.MultipartForm.Value)
		a.files = append(a.files, files)
		a.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(a.Close)
	return a
}

func writeProfile(t *testing.T, start time.Time) string {
	t.Helper()
	prof := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        1,
		TimeNanos:     start.UnixNano(),
		DurationNanos: int64(time.Minute),
	}
	fn := &profile.Function{ID: 1, Name: "main", SystemName: "main", Filename: "index.php"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 3}}}
	prof.Function = []*profile.Function{fn}
	prof.Location = []*profile.Location{loc}
	prof.Sample = []*profile.Sample{{Location: []*profile.Location{loc}, Value: []int64{7}}}

	data, err := converter.Encode(prof)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "profile.pprof")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestExport(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	profilePath := writeProfile(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	provenancePath := filepath.Join(t.TempDir(), "provenance.json")
	require.NoError(t, os.WriteFile(provenancePath,
		[]byte(`{"v1":[{"kind":"library","name":"symfony/console","version":"6.4.0","paths":["vendor/symfony/console"]}]}`),
		0o600))

	code := mainWithExitCode([]string{"export",
		"-trace-agent-url", a.URL,
		"-profile", profilePath,
		"-code-provenance", provenancePath,
		"-tags", "env=prod,service:web",
	})
	require.Equal(t, exitSuccess, code)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.forms, 1)
	form := a.forms[0]
	assert.Equal(t, []string{"php"}, form["family"])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z"}, form["start"])
	assert.Equal(t, []string{"2024-05-01T12:01:00Z"}, form["end"])

	tagValues := form["tags[]"]
	require.Len(t, tagValues, 3)
	assert.Equal(t, "env:prod", tagValues[0])
	assert.True(t, strings.HasPrefix(tagValues[1], "runtime-id:"), tagValues[1])
	assert.Equal(t, "service:web", tagValues[2])

	assert.ElementsMatch(t, []string{"data[profile.pprof]", "data[code-provenance.json.gz]"}, a.files[0])
}

func TestExportTimeFlags(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	profilePath := writeProfile(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	code := mainWithExitCode([]string{"export",
		"-trace-agent-url", a.URL,
		"-profile", profilePath,
		"-start", "2024-06-01T00:00:00Z",
		"-finish", "2024-06-01T00:00:10.5Z",
		"-tags", "runtime-id=fixed",
	})
	require.Equal(t, exitSuccess, code)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.forms, 1)
	assert.Equal(t, []string{"2024-06-01T00:00:00Z"}, a.forms[0]["start"])
	assert.Equal(t, []string{"2024-06-01T00:00:10.5Z"}, a.forms[0]["end"])
	assert.Equal(t, []string{"runtime-id:fixed"}, a.forms[0]["tags[]"])
	assert.Equal(t, []string{"data[profile.pprof]"}, a.files[0])
}

func TestExportFromEnvironment(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	t.Setenv("DD_TRACE_AGENT_URL", a.URL)

	code := mainWithExitCode([]string{"export", "-profile", writeProfile(t, time.Now())})
	require.Equal(t, exitSuccess, code)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.forms, 1)
}

func TestExportErrorStatusFails(t *testing.T) {
	a := newAgent(t, http.StatusForbidden)

	code := mainWithExitCode([]string{"export",
		"-trace-agent-url", a.URL,
		"-profile", writeProfile(t, time.Now()),
	})
	assert.Equal(t, exitFailure, code)
}

func TestExportPhpspy(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	dump := filepath.Join(t.TempDir(), "phpspy.txt")
	require.NoError(t, os.WriteFile(dump, []byte(
		"0 App\\Worker::run /var/www/src/Worker.php:13\n1 {main} /var/www/bin/worker.php:5\n\n"+
			"0 {main} /var/www/bin/worker.php:5\n\n"), 0o600))

	before := time.Now().UTC()
	code := mainWithExitCode([]string{"export",
		"-trace-agent-url", a.URL,
		"-phpspy", dump,
		"-rate-hz", "10",
	})
	require.Equal(t, exitSuccess, code)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.forms, 1)
	start, err := time.Parse(time.RFC3339Nano, a.forms[0]["start"][0])
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339Nano, a.forms[0]["end"][0])
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, end.Sub(start))
	assert.False(t, end.Before(before.Add(-time.Second)))
}

func TestExportFailures(t *testing.T) {
	invalid := filepath.Join(t.TempDir(), "invalid.pprof")
	require.NoError(t, os.WriteFile(invalid, []byte("not a profile"), 0o600))
	badProvenance := filepath.Join(t.TempDir(), "provenance.json")
	require.NoError(t, os.WriteFile(badProvenance, []byte(`{"v1":`), 0o600))

	for name, args := range map[string][]string{
		"missing profile flag": {"export"},
		"profile and phpspy":   {"export", "-profile", "a.pprof", "-phpspy", "-"},
		"empty phpspy output":  {"export", "-phpspy", invalid},
		"unreadable profile":   {"export", "-profile", filepath.Join(t.TempDir(), "missing.pprof")},
		"invalid profile":      {"export", "-profile", invalid},
		"invalid provenance": {"export", "-profile", writeProfile(t, time.Now()),
			"-code-provenance", badProvenance},
		"finish before start": {"export", "-profile", writeProfile(t, time.Now()),
			"-start", "2024-06-01T00:00:10Z", "-finish", "2024-06-01T00:00:00Z"},
		"unknown mode": {"export", "-mode", "carrier-pigeon", "-profile", writeProfile(t, time.Now())},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, exitFailure, mainWithExitCode(args))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Equal(t, exitSuccess, mainWithExitCode([]string{"validate",
		"-trace-agent-url", "http://localhost:8126"}))
	assert.Equal(t, exitSuccess, mainWithExitCode([]string{"validate",
		"-mode", "agentless", "-api-key", "abcdef123456"}))
	assert.Equal(t, exitFailure, mainWithExitCode([]string{"validate",
		"-mode", "agentless", "-api-key", ""}))
	assert.Equal(t, exitFailure, mainWithExitCode([]string{"validate", "-mode", "carrier-pigeon"}))
}

func TestParseErrors(t *testing.T) {
	assert.Equal(t, exitParseError, mainWithExitCode(nil))
	assert.Equal(t, exitParseError, mainWithExitCode([]string{"validate", "-no-such-flag"}))
	assert.Equal(t, exitParseError, mainWithExitCode([]string{"export", "-start", "yesterday"}))
}

func TestMultiFlag(t *testing.T) {
	var f multiFlag
	require.NoError(t, f.Set("env=prod, service:web"))
	require.NoError(t, f.Set("version=1"))
	require.NoError(t, f.Set(""))
	assert.Equal(t, multiFlag{"env=prod", "service:web", "version=1"}, f)
}

func TestApplyTags(t *testing.T) {
	c := newCLIConfig()
	c.tags = multiFlag{"env=prod", "zone:eu", "bare"}
	c.applyTags()

	pairs := c.pairs()
	require.Len(t, pairs, 3)
	assert.Equal(t, "bare", pairs[0].Name)
	assert.Empty(t, pairs[0].Value)
	assert.Equal(t, "env", pairs[1].Name)
	assert.Equal(t, "zone", pairs[2].Name)
	assert.Equal(t, "eu", pairs[2].Value)
}

func TestTimeRange(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	profiled := converter.Summary{Start: now.Add(-time.Hour), Finish: now.Add(-time.Hour + time.Minute)}

	cmd := &exportCmd{}
	start, finish := cmd.timeRange(profiled, now)
	assert.Equal(t, profiled.Start, start)
	assert.Equal(t, profiled.Finish, finish)

	start, finish = cmd.timeRange(converter.Summary{}, now)
	assert.Equal(t, now, start)
	assert.Equal(t, now, finish)

	require.NoError(t, cmd.start.Set("2024-01-01T00:00:00Z"))
	start, finish = cmd.timeRange(profiled, now)
	assert.True(t, start.Equal(now))
	assert.Equal(t, profiled.Finish, finish)
}

func TestTimeoutMillis(t *testing.T) {
	c := newCLIConfig()
	assert.Equal(t, uint64(30000), c.timeoutMillis())
	c.cfg.UploadTimeout = 0
	assert.Equal(t, uint64(0), c.timeoutMillis())
	c.cfg.UploadTimeout = 1500 * time.Millisecond
	assert.Equal(t, uint64(1500), c.timeoutMillis())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "****", redact("abc"))
	assert.Equal(t, "****3456", redact("abcdef123456"))
}
