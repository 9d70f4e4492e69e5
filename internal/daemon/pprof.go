package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// pprofServer exposes runtime profiles on a separate listener so the
// monitor's API mux never serves /debug/pprof.
type pprofServer struct {
	srv *http.Server
	ln  net.Listener
}

// startPprof binds addr and serves profiles in the background. An empty addr
// disables profiling and returns a nil server; a bind failure is returned so
// a bad --pprof flag fails startup instead of being logged and ignored.
func startPprof(addr string) (*pprofServer, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	p := &pprofServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	log := slog.With("component", "pprof", "addr", ln.Addr().String())
	log.Info("profiling enabled")
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("pprof server stopped", "err", err)
		}
	}()
	return p, nil
}

// Addr is the bound address, useful when addr used port 0.
func (p *pprofServer) Addr() string {
	if p == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *pprofServer) close() {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.srv.Shutdown(ctx)
}
