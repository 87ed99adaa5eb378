package binding

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phpScopeExporter/config"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) FailedToProcessTag(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// agent answers uploads with status and keeps the last form it received.
type agent struct {
	*httptest.Server
	mu    sync.Mutex
	calls int
	form  map[string][]string
	files []string
}

func newAgent(t *testing.T, status int) *agent {
	a := &agent{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.calls++
		a.form = r.MultipartForm.Value
		a.files = a.files[:0]
		for field := range r.MultipartForm.File {
			a.files = append(a.files, field)
		}
		a.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(a.Close)
	return a
}

type call struct {
	configuration  any
	timeout        any
	startSec       any
	startNsec      any
	finishSec      any
	finishNsec     any
	pprofName      any
	pprofData      any
	provenanceName any
	provenanceData any
	tags           any
}

func defaultCall(baseURL string) call {
	return call{
		configuration:  []any{Symbol("agent"), baseURL},
		timeout:        30000,
		startSec:       int64(1000),
		startNsec:      0,
		finishSec:      int64(1060),
		finishNsec:     0,
		pprofName:      "profile.pprof",
		pprofData:      "X",
		provenanceName: "code-provenance.json.gz",
		provenanceData: nil,
		tags:           []any{[]any{"env", "prod"}},
	}
}

func (c call) do(ctx context.Context, b *Binding) (Reply, error) {
	return b.DoExport(ctx, c.configuration, c.timeout, c.startSec, c.startNsec,
		c.finishSec, c.finishNsec, c.pprofName, c.pprofData,
		c.provenanceName, c.provenanceData, c.tags)
}

func TestValidateExporter(t *testing.T) {
	b := New(&recorder{})

	for name, tc := range map[string]struct {
		configuration any
		status        Symbol
	}{
		"agent":               {[]any{Symbol("agent"), "http://localhost:8126"}, OK},
		"agent unix":          {[]any{Symbol("agent"), "unix:///var/run/datadog/apm.socket"}, OK},
		"agentless":           {[]any{Symbol("agentless"), "datadoghq.com", "1234"}, OK},
		"agentless empty key": {[]any{Symbol("agentless"), "datadoghq.com", ""}, Error},
		"agent bad scheme":    {[]any{Symbol("agent"), "ftp://localhost"}, Error},
	} {
		t.Run(name, func(t *testing.T) {
			reply, err := b.ValidateExporter(tc.configuration)
			require.NoError(t, err)
			assert.Equal(t, tc.status, reply.Status)
			if tc.status == OK {
				assert.Nil(t, reply.Value)
			} else {
				assert.NotEmpty(t, reply.Value)
			}
		})
	}
}

func TestValidateExporterRaises(t *testing.T) {
	b := New(&recorder{})

	_, err := b.ValidateExporter("agent")
	var typeErr *TypeError
	assert.ErrorAs(t, err, &typeErr)

	_, err = b.ValidateExporter([]any{Symbol("carrier_pigeon")})
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "Failed to initialize transport")

	_, err = b.ValidateExporter([]any{"agent", "http://localhost:8126"})
	assert.ErrorAs(t, err, &cfgErr, "mode must be a symbol")

	_, err = b.ValidateExporter([]any{Symbol("agent"), 8126})
	var fieldErr *config.FieldTypeError
	assert.ErrorAs(t, err, &fieldErr)
}

func TestDoExport(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	rec := &recorder{}

	reply, err := defaultCall(a.URL).do(context.Background(), New(rec))
	require.NoError(t, err)
	assert.Equal(t, Reply{Status: OK, Value: uint32(http.StatusOK)}, reply)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, []string{"php"}, a.form["family"])
	assert.Equal(t, []string{"env:prod"}, a.form["tags[]"])
	assert.Equal(t, []string{"data[profile.pprof]"}, a.files)
	assert.Empty(t, rec.messages)
}

func TestDoExportWithProvenance(t *testing.T) {
	a := newAgent(t, http.StatusOK)

	c := defaultCall(a.URL)
	c.provenanceData = []byte("{}")
	reply, err := c.do(context.Background(), New(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.ElementsMatch(t, []string{"data[profile.pprof]", "data[code-provenance.json.gz]"}, a.files)
}

func TestDoExportErrorStatus(t *testing.T) {
	a := newAgent(t, http.StatusInternalServerError)

	reply, err := defaultCall(a.URL).do(context.Background(), New(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, Reply{Status: OK, Value: uint32(http.StatusInternalServerError)}, reply)
}

func TestDoExportMalformedTag(t *testing.T) {
	a := newAgent(t, http.StatusOK)
	rec := &recorder{}

	c := defaultCall(a.URL)
	c.tags = []any{[]any{"env", "prod"}, []any{"", "x"}}
	reply, err := c.do(context.Background(), New(rec))
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)
	assert.Len(t, rec.messages, 1)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []string{"env:prod"}, a.form["tags[]"])
}

func TestDoExportFailure(t *testing.T) {
	c := defaultCall("http://localhost:8126")
	c.startNsec = 1_500_000_000

	reply, err := c.do(context.Background(), New(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, Error, reply.Status)
	assert.Contains(t, reply.Value, "nanoseconds")
}

func TestDoExportInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := defaultCall("http://localhost:8126").do(ctx, New(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, Error, reply.Status)
	assert.NotEmpty(t, reply.Value)
}

func TestDoExportRaises(t *testing.T) {
	b := New(&recorder{})

	for name, tc := range map[string]struct {
		mutate func(c *call)
		target any
	}{
		"configuration not an array": {func(c *call) { c.configuration = "agent" }, new(*TypeError)},
		"unknown mode":               {func(c *call) { c.configuration = []any{Symbol("nope")} }, new(*config.Error)},
		"tags not an array":          {func(c *call) { c.tags = map[string]string{} }, new(*TypeError)},
		"tag not a pair":             {func(c *call) { c.tags = []any{"env:prod"} }, new(*TypeError)},
		"tag value not a string":     {func(c *call) { c.tags = []any{[]any{"env", 1}} }, new(*TypeError)},
		"tag missing value":          {func(c *call) { c.tags = []any{[]any{"env"}} }, new(*TypeError)},
		"timeout not an integer":     {func(c *call) { c.timeout = "30s" }, new(*TypeError)},
		"negative timeout":           {func(c *call) { c.timeout = -1 }, new(*RangeError)},
		"nanoseconds overflow":       {func(c *call) { c.finishNsec = int64(1) << 33 }, new(*RangeError)},
		"timeout above int64":        {func(c *call) { c.timeout = uint64(math.MaxUint64) }, new(*RangeError)},
		"seconds above int64":        {func(c *call) { c.startSec = uint64(math.MaxInt64) + 1 }, new(*RangeError)},
		"seconds not an integer":     {func(c *call) { c.startSec = 1.5 }, new(*TypeError)},
		"pprof name not a string":    {func(c *call) { c.pprofName = nil }, new(*TypeError)},
		"pprof data not a string":    {func(c *call) { c.pprofData = 42 }, new(*TypeError)},
		"provenance name missing":    {func(c *call) { c.provenanceName = nil }, new(*TypeError)},
		"provenance data bad type":   {func(c *call) { c.provenanceData = 42 }, new(*TypeError)},
	} {
		t.Run(name, func(t *testing.T) {
			c := defaultCall("http://localhost:8126")
			tc.mutate(&c)
			reply, err := c.do(context.Background(), b)
			require.Error(t, err)
			assert.ErrorAs(t, err, tc.target)
			assert.Equal(t, Reply{}, reply)
		})
	}
}

func TestDoExportUnsignedArguments(t *testing.T) {
	a := newAgent(t, http.StatusOK)

	c := defaultCall(a.URL)
	c.timeout = uint64(math.MaxInt64)
	c.startSec = uint(1000)
	c.finishSec = uint64(1060)
	c.finishNsec = uint64(999_999_999)
	reply, err := c.do(context.Background(), New(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, Reply{Status: OK, Value: uint32(http.StatusOK)}, reply)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []string{"1970-01-01T00:16:40Z"}, a.form["start"])
	assert.Equal(t, []string{"1970-01-01T00:17:40.999999999Z"}, a.form["end"])
}

func TestUnknownModeRaisesBeforeTags(t *testing.T) {
	rec := &recorder{}

	c := defaultCall("")
	c.configuration = []any{Symbol("nope")}
	c.tags = []any{[]any{"", "bad"}}
	_, err := c.do(context.Background(), New(rec))

	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, rec.messages)
}
