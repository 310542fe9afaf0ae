package httpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
)

// Server is an http.Server whose lifetime is bound to a context.
type Server struct {
	http.Server
}

func NewServer(handler http.Handler) *Server {
	return &Server{http.Server{Handler: handler}}
}

// Serve behaves like http.Server.Serve but shuts down when ctx is cancelled.
// A panicking handler also shuts the server down, where http.Server would
// recover and keep serving with possibly corrupt barrier state.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.Server.Handler = panicHandler{s.Server.Handler, cancel}

	go func() {
		<-ctx.Done()
		if err := s.Server.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
	}()

	return s.Server.Serve(l)
}

type panicHandler struct {
	http.Handler
	cancel context.CancelCauseFunc
}

func (h panicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("http handler panic", "panic", p, "path", r.URL.Path, "stack", string(debug.Stack()))
			err, ok := p.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", p)
			}
			h.cancel(errors.Join(errHandlerPanic, err))
		}
	}()
	h.Handler.ServeHTTP(w, r)
}

var errHandlerPanic = errors.New("http handler panicked")
