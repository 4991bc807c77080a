// Package api hosts the alerttrader listeners: the REST API over HTTP and
// the Intents service over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"alerttrader/internal/config"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	log      *slog.Logger
}

// NewServer creates a new Server configured from cfg. A zero GRPCPort
// disables the gRPC listener.
func NewServer(cfg config.Server, handler http.Handler, intents IntentsServer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
	if cfg.GRPCPort > 0 && intents != nil {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
		s.grpc = grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
		RegisterIntentsServer(s.grpc, intents)
	}
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.httpAddr, err)
	}
	var grpcLis net.Listener
	if s.grpc != nil {
		grpcLis, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("listen grpc %s: %w", s.grpcAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLis.Addr().String())
		if err := s.http.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", grpcLis.Addr().String())
			if err := s.grpc.Serve(grpcLis); !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	return s.http.Shutdown(ctx)
}
