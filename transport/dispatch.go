package transport

import (
	"context"

	log "github.com/sirupsen/logrus"

	"phpScopeExporter/exporter"
)

// call carries one send across to the background goroutine. result and
// sendRan are written there and read only after done is closed.
type call struct {
	exporter Exporter
	request  *exporter.Request
	token    *exporter.CancellationToken
	result   exporter.Result
	sendRan  bool
	done     chan struct{}
}

func (c *call) run(ctx context.Context) {
	defer close(c.done)
	if ctx.Err() != nil {
		return
	}
	c.result = c.exporter.Send(c.request, c.token)
	c.sendRan = true
}

// Dispatch sends req with exp on a background goroutine and waits for it.
// When ctx is done during the wait, token is cancelled and Dispatch keeps
// waiting for the send to return. The second return value reports whether
// the send ran at all; when it did not, the Result is
// ErrInterruptedBeforeSend.
//
// Dispatch neither closes exp nor releases token.
func Dispatch(ctx context.Context, exp Exporter, req *exporter.Request,
	token *exporter.CancellationToken) (exporter.Result, bool) {
	c := &call{
		exporter: exp,
		request:  req,
		token:    token,
		done:     make(chan struct{}),
	}
	go c.run(ctx)

	select {
	case <-c.done:
	case <-ctx.Done():
		log.Debugf("Export interrupted, cancelling upload")
		token.Cancel()
		<-c.done
	}

	if !c.sendRan {
		return exporter.Failure(ErrInterruptedBeforeSend.Error()), false
	}
	return c.result, true
}
