package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// maxResponseBody bounds how much of a response is read for logging.
const maxResponseBody = 64 << 10

// Send posts req and blocks until the server answers, the request times out
// or token is cancelled. req is consumed whatever the outcome. Any HTTP
// response, whatever its status, is a Success. A token that was already
// released fails the send without any I/O.
func (e *Exporter) Send(req *Request, token *CancellationToken) Result {
	if !e.take(req) {
		return Failure("request was not built by this exporter or was already sent")
	}
	body, contentType := req.body, req.contentType
	req.release()

	if token == nil {
		token = NewCancellationToken()
		defer token.Release()
	} else if token.Released() {
		return Failure(ErrReleased.Error())
	}

	ctx, cancel := context.WithTimeout(token.ctx, req.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Sprintf("creating request: %v", err))
	}
	for k, v := range e.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		switch {
		case token.Cancelled():
			return Failure(ErrCancelled.Error())
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Failure(fmt.Sprintf("operation timed out after %s", req.timeout))
		default:
			return Failure(fmt.Sprintf("sending request: %v", err))
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode/100 != 2 {
		log.Debugf("Profile upload to %s answered %d: %s", e.url, resp.StatusCode, respBody)
	} else {
		log.Debugf("Profile sent successfully (%d files, %d bytes)", len(req.files), len(body))
	}
	return Success(uint32(resp.StatusCode))
}
