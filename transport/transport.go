// Package transport runs profile uploads on a background goroutine while the
// calling goroutine stays interruptible.
//
// An upload goes through Idle, Dispatched and then either Completed or
// Aborted. The caller's context is the host's interrupt: when it is done
// while the upload is in flight, the upload's cancellation token is
// triggered and the caller still waits for the background goroutine to
// return before releasing anything. When the context is already done before
// the background goroutine starts, the send is skipped altogether and
// reported as ErrInterruptedBeforeSend.
package transport

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"phpScopeExporter/config"
	"phpScopeExporter/exporter"
	"phpScopeExporter/tags"
)

// ErrInterruptedBeforeSend is the failure reported when an upload was
// interrupted before its send could start.
var ErrInterruptedBeforeSend = errors.New("interrupted before the exporter send ran")

// Exporter is the capability set the transport needs from an exporter.
// *exporter.Exporter implements it.
type Exporter interface {
	Build(spec exporter.RequestSpec) (*exporter.Request, error)
	Send(req *exporter.Request, token *exporter.CancellationToken) exporter.Result
	Close() error
}

// Factory builds an Exporter.
type Factory func(family string, endpoint config.Endpoint, set tags.Set) (Exporter, error)

// DefaultFactory builds *exporter.Exporter values.
func DefaultFactory(family string, endpoint config.Endpoint, set tags.Set) (Exporter, error) {
	e, err := exporter.New(family, endpoint, set)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Transport validates configurations and runs uploads for one client family.
type Transport struct {
	family      string
	reporter    tags.Reporter
	newExporter Factory
	newToken    func() *exporter.CancellationToken
}

// New returns a Transport identifying itself as family and reporting
// rejected tags to reporter (tags.LogReporter when nil).
func New(family string, reporter tags.Reporter) *Transport {
	if reporter == nil {
		reporter = tags.LogReporter
	}
	return &Transport{
		family:      family,
		reporter:    reporter,
		newExporter: DefaultFactory,
		newToken:    exporter.NewCancellationToken,
	}
}

// Export is one upload.
type Export struct {
	Configuration config.Configuration
	TimeoutMillis uint64
	Start         exporter.Timespec
	Finish        exporter.Timespec
	Profile       exporter.File
	// CodeProvenance is left out of the upload entirely when nil.
	CodeProvenance *exporter.File
	Tags           []tags.Pair
}

// Files returns the files to upload, profile first.
func (e Export) Files() []exporter.File {
	files := []exporter.File{e.Profile}
	if e.CodeProvenance != nil {
		files = append(files, *e.CodeProvenance)
	}
	return files
}

// ValidateExporter checks that an exporter can be built from cfg, without
// any network I/O. A configuration that cannot be resolved at all is
// returned as an error; one that resolves but is rejected is a Failure.
// A Success carries no status.
func (t *Transport) ValidateExporter(cfg config.Configuration) (exporter.Result, error) {
	endpoint, err := config.ResolveEndpoint(cfg)
	if err != nil {
		return exporter.Result{}, err
	}

	exp, err := t.newExporter(t.family, endpoint, tags.Set{})
	if err != nil {
		return exporter.Failure(err.Error()), nil
	}
	if err := exp.Close(); err != nil {
		log.Debugf("Closing validated exporter: %v", err)
	}
	return exporter.Success(0), nil
}

// DoExport builds an exporter for e.Configuration, uploads e and releases
// everything it allocated. Interrupting ctx cancels the upload.
func (t *Transport) DoExport(ctx context.Context, e Export) (exporter.Result, error) {
	// Resolve the endpoint before touching tags so a bad configuration is
	// reported without any tag processing.
	endpoint, err := config.ResolveEndpoint(e.Configuration)
	if err != nil {
		return exporter.Result{}, err
	}
	set := tags.Build(e.Tags, t.reporter)

	exp, err := t.newExporter(t.family, endpoint, set)
	if err != nil {
		return exporter.Failure(err.Error()), nil
	}
	defer func() {
		if err := exp.Close(); err != nil {
			log.Errorf("Closing exporter: %v", err)
		}
	}()

	token := t.newToken()
	defer func() {
		if err := token.Release(); err != nil {
			log.Errorf("Releasing cancellation token: %v", err)
		}
	}()

	req, err := exp.Build(exporter.RequestSpec{
		Start:         e.Start,
		Finish:        e.Finish,
		Files:         e.Files(),
		TimeoutMillis: e.TimeoutMillis,
	})
	if err != nil {
		return exporter.Failure(err.Error()), nil
	}

	startTime := time.Now()
	res, sendRan := Dispatch(ctx, exp, req, token)
	log.Debugf("Export finished in %v (send ran: %v): %s", time.Since(startTime), sendRan, res)
	return res, nil
}
