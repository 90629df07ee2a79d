// Package router owns the listeners: it accepts connections, applies the
// admission bound, tracks live sockets for draining, and hands each
// connection to the dispatcher on its own goroutine.
package router

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/armon/go-proxyproto"
	"github.com/uber-go/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rohan-flutterint/minum/common/health"
	"github.com/rohan-flutterint/minum/config"
	"github.com/rohan-flutterint/minum/dispatch"
	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/sockets"
	"github.com/rohan-flutterint/minum/wire"
)

var DrainTimeout = errors.New("router: Drain timeout")

const proxyProtocolHeaderTimeout = 100 * time.Millisecond

type Router struct {
	config     *config.Config
	logger     logger.Logger
	dispatcher *dispatch.Dispatcher
	health     *health.Health

	listener     net.Listener
	tlsListener  net.Listener
	serveDone    chan struct{}
	tlsServeDone chan struct{}

	// the SetOfSws: every live socket wrapper, for draining and teardown
	connLock  sync.Mutex
	conns     map[sockets.SocketWrapper]struct{}
	drainDone chan struct{}

	workers *semaphore.Weighted

	stopping bool
	stopLock sync.Mutex

	errChan chan error
}

func NewRouter(
	logger logger.Logger,
	cfg *config.Config,
	dispatcher *dispatch.Dispatcher,
	h *health.Health,
	errChan chan error,
) *Router {
	routerErrChan := errChan
	if routerErrChan == nil {
		routerErrChan = make(chan error, 2)
	}

	return &Router{
		config:       cfg,
		logger:       logger,
		dispatcher:   dispatcher,
		health:       h,
		serveDone:    make(chan struct{}),
		tlsServeDone: make(chan struct{}),
		conns:        make(map[sockets.SocketWrapper]struct{}),
		workers:      semaphore.NewWeighted(cfg.MaxConnections),
		errChan:      routerErrChan,
	}
}

// Run implements ifrit.Runner: bind the listeners, signal readiness, then
// block until a signal or a fatal listener error arrives.
func (r *Router) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	if err := r.serveTCP(); err != nil {
		return err
	}
	if err := r.serveTLS(); err != nil {
		r.Stop()
		return err
	}

	r.logger.Info("minum.started")
	close(ready)

	select {
	case err := <-r.errChan:
		if err != nil {
			r.logger.Error("listener-failure", zap.Error(err))
			r.health.SetHealth(health.Degraded)
			r.Stop()
			return err
		}
	case sig := <-signals:
		r.logger.Info("minum.signal-received", zap.String("signal", sig.String()))
		r.DrainAndStop()
	}

	r.logger.Info("minum.exited")
	return nil
}

func (r *Router) serveTCP() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port))
	if err != nil {
		r.logger.Error("tcp-listener-error", zap.Error(err))
		return err
	}

	if r.config.EnablePROXY {
		listener = &proxyproto.Listener{
			Listener:           listener,
			ProxyHeaderTimeout: proxyProtocolHeaderTimeout,
		}
	}
	r.listener = listener

	r.logger.Info("tcp-listener-started", zap.String("address", listener.Addr().String()))

	go r.acceptLoop(r.listener, r.serveDone)
	return nil
}

func (r *Router) serveTLS() error {
	if !r.config.SecureEnabled() {
		r.logger.Info("tls-listener-not-enabled")
		close(r.tlsServeDone)
		return nil
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{r.config.SSLCertificate},
		ClientCAs:    r.config.ClientCAPool,
		ClientAuth:   r.config.ClientCertificateValidation,
		MinVersion:   r.config.MinTLSVersion,
		MaxVersion:   r.config.MaxTLSVersion,
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.config.Host, r.config.SecurePort))
	if err != nil {
		r.logger.Error("tls-listener-error", zap.Error(err))
		close(r.tlsServeDone)
		return err
	}
	r.tlsListener = tls.NewListener(listener, tlsConfig)

	r.logger.Info("tls-listener-started", zap.String("address", r.tlsListener.Addr().String()))

	go r.acceptLoop(r.tlsListener, r.tlsServeDone)
	return nil
}

// acceptLoop accepts until the listener closes. Transient accept failures
// back off exponentially instead of spinning.
func (r *Router) acceptLoop(listener net.Listener, done chan struct{}) {
	defer close(done)

	var tempDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if r.IsStopping() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				r.logger.Warn("accept-error-retrying",
					zap.Error(err),
					zap.Duration("delay", tempDelay),
				)
				time.Sleep(tempDelay)
				continue
			}
			r.errChan <- err
			return
		}
		tempDelay = 0

		go r.handleConn(conn)
	}
}

// handleConn admits the connection through the worker bound, registers it in
// the SetOfSws, and runs the dispatcher. The socket is closed on every exit
// path.
func (r *Router) handleConn(conn net.Conn) {
	sw := sockets.NewSocket(conn)

	if !r.acquireWorker() {
		r.logger.Warn("worker-pool-saturated", zap.String("client", conn.RemoteAddr().String()))
		r.refuse(sw)
		return
	}
	defer r.workers.Release(1)

	r.addConn(sw)
	defer r.removeConn(sw)

	// #nosec G104 - a failed deadline surfaces as a read error in the dispatcher
	sw.SetReadDeadline(time.Now().Add(r.config.SocketTimeout))

	r.dispatcher.ServeConnection(sw)
}

// acquireWorker waits up to AcceptQueueWait for a worker slot.
func (r *Router) acquireWorker() bool {
	if r.workers.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.AcceptQueueWait)
	defer cancel()
	return r.workers.Acquire(ctx, 1) == nil
}

// refuse answers an unadmittable connection with a 503 and closes it.
func (r *Router) refuse(sw sockets.SocketWrapper) {
	resp := wire.NewResponse(http.StatusServiceUnavailable, nil,
		wire.HeaderPair{Name: "Retry-After", Value: "5"},
	)
	// #nosec G104 - the client may already be gone; nothing to do about it
	resp.Write(sw, wire.WriteOptions{})
	// #nosec G104
	sw.Close()
}

func (r *Router) addConn(sw sockets.SocketWrapper) {
	r.connLock.Lock()
	defer r.connLock.Unlock()

	r.conns[sw] = struct{}{}
	r.logger.Debug("adding socket to SetOfSws",
		zap.String("client", sw.RemoteAddr()),
		zap.Int("count", len(r.conns)),
	)
}

func (r *Router) removeConn(sw sockets.SocketWrapper) {
	r.connLock.Lock()
	defer r.connLock.Unlock()

	delete(r.conns, sw)
	r.logger.Debug("removed socket from SetOfSws",
		zap.String("client", sw.RemoteAddr()),
		zap.Int("count", len(r.conns)),
	)

	if r.drainDone != nil && len(r.conns) == 0 {
		close(r.drainDone)
		r.drainDone = nil
	}
}

func (r *Router) NumConns() int {
	r.connLock.Lock()
	defer r.connLock.Unlock()
	return len(r.conns)
}

func (r *Router) IsStopping() bool {
	r.stopLock.Lock()
	defer r.stopLock.Unlock()
	return r.stopping
}

func (r *Router) DrainAndStop() {
	r.logger.Info("minum-draining",
		zap.Float64("wait_seconds", r.config.DrainWait.Seconds()),
		zap.Float64("timeout_seconds", r.config.DrainTimeout.Seconds()),
	)

	if err := r.Drain(r.config.DrainWait, r.config.DrainTimeout); err != nil {
		r.logger.Error("minum-draining-error", zap.Error(err))
	}

	r.Stop()
}

// Drain stops accepting, then waits for in-flight connections to finish up
// to drainTimeout. Connections still open after that are force-closed by
// Stop.
func (r *Router) Drain(drainWait, drainTimeout time.Duration) error {
	<-time.After(drainWait)

	r.stopListening()

	drained := make(chan struct{})

	r.connLock.Lock()
	r.logger.Info(fmt.Sprintf("Draining with %d outstanding connections", len(r.conns)))
	if len(r.conns) == 0 {
		close(drained)
	} else {
		r.drainDone = drained
	}
	r.connLock.Unlock()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		r.logger.Info("router.drain.timed-out")
		return DrainTimeout
	}

	return nil
}

func (r *Router) Stop() {
	stoppingAt := time.Now()

	r.logger.Info("minum.stopping")

	r.stopListening()

	r.connLock.Lock()
	for sw := range r.conns {
		// #nosec G104 - ignore connection close errors here since this has the potential to balloon logs up
		sw.Close()
	}
	r.connLock.Unlock()

	r.logger.Info("minum.stopped",
		zap.Duration("took", time.Since(stoppingAt)),
	)
}

func (r *Router) stopListening() {
	r.stopLock.Lock()
	alreadyStopping := r.stopping
	r.stopping = true
	r.stopLock.Unlock()

	if alreadyStopping {
		return
	}

	if r.listener != nil {
		if err := r.listener.Close(); err != nil {
			r.logger.Error("error-closing-listener", zap.Error(err))
		}
		<-r.serveDone
	}

	if r.tlsListener != nil {
		if err := r.tlsListener.Close(); err != nil {
			r.logger.Error("error-closing-tls-listener", zap.Error(err))
		}
	}
	<-r.tlsServeDone
}

// Addr reports the bound plaintext address, for tests that listen on an
// ephemeral port.
func (r *Router) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}
