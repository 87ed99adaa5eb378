// Package exporter uploads profiles to the profiling intake, either directly
// or through a local agent.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"phpScopeExporter/config"
	"phpScopeExporter/tags"
)

const (
	agentPath     = "/profiling/v1/input"
	intakePrefix  = "intake.profile."
	intakePath    = "/v1/input"
	apiKeyHeader  = "DD-API-KEY"
	userAgentName = "phpScopeExporter"
)

// ErrClosed is returned when an Exporter is used after Close.
var ErrClosed = errors.New("exporter is closed")

// ConstructionError reports a configuration of the right shape that still
// cannot be used to build an Exporter, such as an unparseable URL.
type ConstructionError struct {
	Msg string
	Err error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Exporter builds and sends upload requests for one endpoint and tag set.
type Exporter struct {
	family   string
	endpoint config.Endpoint
	tags     tags.Set
	url      string
	header   http.Header
	client   *http.Client

	mu      sync.Mutex
	pending map[*Request]struct{}
	closed  bool
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithRoundTripper replaces the HTTP transport used for uploads.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(e *Exporter) {
		e.client.Transport = rt
	}
}

// New creates an Exporter identifying itself as family, uploading to
// endpoint and attaching set to every request.
func New(family string, endpoint config.Endpoint, set tags.Set, opts ...Option) (*Exporter, error) {
	if family == "" {
		return nil, &ConstructionError{Msg: "exporter family must not be empty"}
	}

	e := &Exporter{
		family:   family,
		endpoint: endpoint,
		tags:     set,
		header:   make(http.Header),
		pending:  make(map[*Request]struct{}),
	}
	e.header.Set("User-Agent", userAgentName+"/"+family)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	e.client = &http.Client{Transport: transport}

	switch ep := endpoint.(type) {
	case config.Agentless:
		target, err := agentlessURL(ep)
		if err != nil {
			return nil, err
		}
		e.url = target
		e.header.Set(apiKeyHeader, ep.APIKey)
	case config.Agent:
		target, socket, err := agentURL(ep)
		if err != nil {
			return nil, err
		}
		e.url = target
		if socket != "" {
			transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			}
		}
	default:
		return nil, &ConstructionError{Msg: fmt.Sprintf("unsupported endpoint %T", endpoint)}
	}

	for _, opt := range opts {
		opt(e)
	}

	log.Debugf("Created %s exporter for %s with %d tags", family, e.url, len(set))
	return e, nil
}

func agentlessURL(ep config.Agentless) (string, error) {
	if ep.Site == "" {
		return "", &ConstructionError{Msg: "agentless endpoint requires a site"}
	}
	if ep.APIKey == "" {
		return "", &ConstructionError{Msg: "agentless endpoint requires an api key"}
	}
	if !validHeaderValue(ep.APIKey) {
		return "", &ConstructionError{Msg: "api key contains characters not allowed in an HTTP header"}
	}

	host := intakePrefix + ep.Site
	u, err := url.Parse("https://" + host + intakePath)
	if err != nil {
		return "", &ConstructionError{Msg: fmt.Sprintf("invalid site %q", ep.Site), Err: err}
	}
	if u.Host != host {
		return "", &ConstructionError{Msg: fmt.Sprintf("invalid site %q", ep.Site)}
	}
	return u.String(), nil
}

// agentURL returns the upload URL for ep and, for unix URLs, the socket path
// to dial instead of the URL host.
func agentURL(ep config.Agent) (string, string, error) {
	if ep.BaseURL == "" {
		return "", "", &ConstructionError{Msg: "agent endpoint requires a base url"}
	}
	u, err := url.Parse(ep.BaseURL)
	if err != nil {
		return "", "", &ConstructionError{Msg: fmt.Sprintf("invalid agent url %q", ep.BaseURL), Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return "", "", &ConstructionError{Msg: fmt.Sprintf("agent url %q has no host", ep.BaseURL)}
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + agentPath
		u.RawPath = ""
		return u.String(), "", nil
	case "unix":
		socket := u.Path
		if socket == "" {
			socket = u.Opaque
		}
		if socket == "" {
			return "", "", &ConstructionError{Msg: fmt.Sprintf("agent url %q has no socket path", ep.BaseURL)}
		}
		return "http://localhost" + agentPath, socket, nil
	default:
		return "", "", &ConstructionError{
			Msg: fmt.Sprintf("agent url %q has unsupported scheme %q, expected http, https or unix",
				ep.BaseURL, u.Scheme),
		}
	}
}

func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		if c := v[i]; c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

// Pending returns the number of requests built but neither sent nor dropped.
func (e *Exporter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close releases the exporter and drops every request built with it that was
// never sent. Closing twice returns ErrClosed.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	for req := range e.pending {
		req.release()
		delete(e.pending, req)
	}
	e.client.CloseIdleConnections()
	return nil
}

func (e *Exporter) register(req *Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.pending[req] = struct{}{}
	return nil
}

// take removes req from the pending set; it reports false if req was not
// built by e or was already sent or dropped.
func (e *Exporter) take(req *Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[req]; !ok {
		return false
	}
	delete(e.pending, req)
	return true
}
