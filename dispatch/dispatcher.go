// Package dispatch owns the per-connection loop: read a request off the
// socket, find a handler, write the response, and keep the connection alive
// when the client negotiated it.
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/brig"
	"github.com/rohan-flutterint/minum/common/uuid"
	"github.com/rohan-flutterint/minum/config"
	"github.com/rohan-flutterint/minum/errorwriter"
	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/registry"
	"github.com/rohan-flutterint/minum/sockets"
	"github.com/rohan-flutterint/minum/static"
	"github.com/rohan-flutterint/minum/wire"
)

const vulnSeekingSuffix = "_vuln_seeking"

// Dispatcher processes HTTP/1.1 requests on accepted connections. It is
// shared by every connection; all per-request state lives on the stack of
// ServeConnection.
type Dispatcher struct {
	logger      logger.Logger
	config      *config.Config
	registry    *registry.HandlerRegistry
	assets      *static.AssetCache
	brig        *brig.Brig
	errorWriter errorwriter.ErrorWriter
}

func NewDispatcher(
	logger logger.Logger,
	cfg *config.Config,
	handlerRegistry *registry.HandlerRegistry,
	assets *static.AssetCache,
	theBrig *brig.Brig,
	ew errorwriter.ErrorWriter,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		config:      cfg,
		registry:    handlerRegistry,
		assets:      assets,
		brig:        theBrig,
		errorWriter: ew,
	}
}

// ServeConnection runs the request loop for one accepted connection and
// closes the socket on every exit path.
func (d *Dispatcher) ServeConnection(sw sockets.SocketWrapper) {
	defer func() {
		// #nosec G104 - close errors on teardown are not actionable
		sw.Close()
	}()

	addr := clientIP(sw.RemoteAddr())
	if d.brig.IsInJail(addr + vulnSeekingSuffix) {
		d.logger.Debug("closing-jailed-client", zap.String("client", addr))
		return
	}

	log := d.logger.Session("dispatch").With(zap.String("client", addr))

	for {
		keepAlive, err := d.serveOne(sw, addr, log)
		if err != nil || !keepAlive {
			return
		}
	}
}

// serveOne handles a single request/response exchange. A non-nil error or a
// false keep-alive ends the connection.
func (d *Dispatcher) serveOne(sw sockets.SocketWrapper, addr string, log logger.Logger) (bool, error) {
	// #nosec G104 - a failed deadline surfaces as a read error right after
	sw.SetReadDeadline(time.Now().Add(d.config.SocketTimeout))

	line, err := sw.ReadLine(d.config.MaxReadLineSizeBytes)
	if err != nil {
		if errors.Is(err, sockets.ErrLineTooLong) {
			log.Info(fmt.Sprintf("client sent more bytes than allowed for a single line. Current max: %d", d.config.MaxReadLineSizeBytes))
			d.brig.SendToJail(addr+vulnSeekingSuffix, d.config.Brig.VulnSeekingJailDuration)
			return false, err
		}
		d.logReadError(log, err)
		return false, err
	}
	if line == "" {
		return false, io.EOF
	}

	log = log.With(zap.String("request_id", requestID()))

	startLine, err := wire.ParseStartLine(line)
	if err != nil || !startLine.Method.Recognized() {
		log.Debug("malformed-start-line", zap.String("line", line))
		return false, d.writeResponse(sw, d.errorWriter.ErrorResponse(http.StatusBadRequest, "malformed request", log), writeOpts(false, d.config.KeepAliveTimeout, false))
	}

	log.Debug("incoming-request",
		zap.String("method", string(startLine.Method)),
		zap.String("path", startLine.Path.Isolated),
	)

	handler, notFound := d.lookupHandler(startLine)

	headers, err := wire.ParseHeaders(func() (string, error) {
		return sw.ReadLine(d.config.MaxReadLineSizeBytes)
	}, d.config.MaxHeadersCount)
	if err != nil {
		log.Debug("malformed-headers", zap.Error(err))
		return false, d.writeResponse(sw, d.errorWriter.ErrorResponse(http.StatusBadRequest, "malformed headers", log), writeOpts(false, d.config.KeepAliveTimeout, false))
	}

	keepAlive := negotiateKeepAlive(startLine, headers)
	isHead := startLine.Method == wire.MethodHead

	body, status := d.readBody(sw, headers, log)
	if status != 0 {
		return false, d.writeResponse(sw, d.errorWriter.ErrorResponse(status, "request body rejected", log), writeOpts(false, d.config.KeepAliveTimeout, isHead))
	}

	var resp wire.Response
	switch {
	case notFound:
		d.noteSuspiciousPath(startLine.Path.Isolated, addr, log)
		resp = d.errorWriter.ErrorResponse(http.StatusNotFound, "no handler for path", log)
	default:
		req := wire.Request{
			StartLine:  startLine,
			Headers:    headers,
			Body:       body,
			RemoteAddr: sw.RemoteAddr(),
		}
		var failed bool
		resp, failed = d.invokeHandler(handler, req, log)
		if failed {
			keepAlive = false
		}
	}

	err = d.writeResponse(sw, resp, writeOpts(keepAlive, d.config.KeepAliveTimeout, isHead))
	if err != nil {
		log.Debug("error-writing-response", zap.Error(err))
		return false, err
	}

	log.Debug("request-complete",
		zap.Int("status", resp.Code),
		zap.Bool("keep_alive", keepAlive),
	)
	return keepAlive, nil
}

// lookupHandler resolves (method, path) against the registry first and the
// static cache second. A static hit is synthesized into a handler so the
// rest of the loop treats both sources alike.
func (d *Dispatcher) lookupHandler(startLine wire.StartLine) (registry.Handler, bool) {
	key := startLine.Path.RouteKey()

	if h := d.registry.Lookup(startLine.Method, key); h != nil {
		return h, false
	}

	if startLine.Method == wire.MethodGet || startLine.Method == wire.MethodHead {
		if asset := d.assets.Lookup(key); asset != nil {
			return registry.HandlerFunc(func(req wire.Request) wire.Response {
				return asset.Response(req.Headers.AcceptsGzip())
			}), false
		}
	}

	return nil, true
}

// readBody consumes the request body when the headers declare one. The
// returned status is non-zero when the connection must be answered with an
// error and closed.
func (d *Dispatcher) readBody(sw sockets.SocketWrapper, headers *wire.Headers, log logger.Logger) (wire.Body, int) {
	hasBody := headers.ContentType() != "" && (headers.ContentLength() > 0 || headers.IsChunked())
	if !hasBody {
		return wire.Body{}, 0
	}

	body, err := wire.ProcessBody(sw, headers, wire.BodyLimits{MaxBytes: d.config.MaxReadSizeBytes})
	if err != nil {
		if errors.Is(err, wire.ErrBodyTooLarge) {
			log.Debug("body-too-large", zap.Error(err))
			return wire.Body{}, http.StatusRequestEntityTooLarge
		}
		log.Debug("malformed-body", zap.Error(err))
		return wire.Body{}, http.StatusBadRequest
	}
	return body, 0
}

// invokeHandler is the boundary where arbitrary handler failures become a
// 500. The second return is true when the handler panicked.
func (d *Dispatcher) invokeHandler(handler registry.Handler, req wire.Request, log logger.Logger) (resp wire.Response, failed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			log.Error("handler-panic",
				zap.Error(err),
				zap.String("stacktrace", string(debug.Stack())),
			)
			resp = d.errorWriter.ErrorResponse(http.StatusInternalServerError, "handler failed", log)
			failed = true
		}
	}()

	return handler.Handle(req), false
}

func (d *Dispatcher) noteSuspiciousPath(path, addr string, log logger.Logger) {
	if d.brig.IsLookingForSuspiciousPaths(path) {
		log.Info("suspicious-path-probe", zap.String("path", path))
		d.brig.SendToJail(addr+vulnSeekingSuffix, d.config.Brig.VulnSeekingJailDuration)
	}
}

func (d *Dispatcher) writeResponse(sw sockets.SocketWrapper, resp wire.Response, opts wire.WriteOptions) error {
	return resp.Write(sw, opts)
}

func (d *Dispatcher) logReadError(log logger.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Debug("client-closed-connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Debug("socket-read-timeout")
	default:
		log.Debug("socket-read-error", zap.Error(err))
	}
}

// negotiateKeepAlive applies the version-dependent Connection token rules:
// 1.0 opts in with keep-alive, 1.1 opts out with close.
func negotiateKeepAlive(startLine wire.StartLine, headers *wire.Headers) bool {
	if startLine.IsHTTP11() {
		return !headers.HasConnectionClose()
	}
	return headers.HasKeepAlive()
}

func writeOpts(keepAlive bool, timeout time.Duration, omitBody bool) wire.WriteOptions {
	return wire.WriteOptions{
		KeepAlive:        keepAlive,
		KeepAliveTimeout: timeout,
		OmitBody:         omitBody,
	}
}

// requestID tags every request's log lines. A uuid failure falls back to a
// fixed marker rather than failing the request.
func requestID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "unknown"
	}
	return id
}

// clientIP strips the ephemeral port so jail keys survive reconnects.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
