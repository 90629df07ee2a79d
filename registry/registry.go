package registry

import (
	"strings"
	"sync"

	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/wire"
)

// Handler is the single capability the core consumes from an application:
// turn a request into a response.
type Handler interface {
	Handle(wire.Request) wire.Response
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(wire.Request) wire.Response

func (f HandlerFunc) Handle(req wire.Request) wire.Response {
	return f(req)
}

// VerbPath is the registry key: method plus the normalized path (lowercased,
// no leading slash). Two registrations differing only in path case collide.
type VerbPath struct {
	Method wire.Method
	Path   string
}

func NewVerbPath(method wire.Method, path string) VerbPath {
	return VerbPath{
		Method: method,
		Path:   strings.ToLower(strings.TrimPrefix(path, "/")),
	}
}

// HandlerRegistry maps VerbPath to handler. Registrations happen at startup
// before the accept loop; lookups run concurrently from every dispatcher.
type HandlerRegistry struct {
	sync.RWMutex

	logger     logger.Logger
	byVerbPath map[VerbPath]Handler
}

func NewHandlerRegistry(logger logger.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		logger:     logger,
		byVerbPath: make(map[VerbPath]Handler),
	}
}

// Register stores the handler under (method, lowercased path). A duplicate
// key overwrites.
func (r *HandlerRegistry) Register(method wire.Method, path string, handler Handler) {
	key := NewVerbPath(method, path)

	r.Lock()
	defer r.Unlock()

	if _, exists := r.byVerbPath[key]; exists {
		r.logger.Debug("handler-overwritten",
			zap.String("method", string(key.Method)),
			zap.String("path", key.Path),
		)
	}
	r.byVerbPath[key] = handler
}

// RegisterFunc is Register for a bare function.
func (r *HandlerRegistry) RegisterFunc(method wire.Method, path string, f func(wire.Request) wire.Response) {
	r.Register(method, path, HandlerFunc(f))
}

// Lookup returns the handler for (method, path) or nil on a miss.
func (r *HandlerRegistry) Lookup(method wire.Method, path string) Handler {
	key := NewVerbPath(method, path)

	r.RLock()
	defer r.RUnlock()

	return r.byVerbPath[key]
}

func (r *HandlerRegistry) NumHandlers() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.byVerbPath)
}
