package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ordersaga/internal/health"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// newMetricsHandler собирает /metrics и health-эндпоинты на отдельном адресе.
func newMetricsHandler(healthHandler *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	healthHandler.Mount(r)
	return r
}

type namedServer struct {
	name string
	srv  *http.Server
	lis  net.Listener
}

func newServer(name, addr string, handler http.Handler) (*namedServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &namedServer{
		name: name,
		lis:  lis,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Addr возвращает фактический адрес (важно для ":0").
func (s *namedServer) Addr() string {
	return s.lis.Addr().String()
}

// serve запускает серверы и фоновые задачи в одной errgroup и останавливает всё по ctx.
func serve(ctx context.Context, logger *log.Entry, servers []*namedServer, background ...func(ctx context.Context)) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		g.Go(func() error {
			logger.WithFields(log.Fields{"server": s.name, "addr": s.Addr()}).Info("http server listening")
			if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	for _, run := range background {
		g.Go(func() error {
			run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, s := range servers {
			shutdownHTTP(s, logger)
		}
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(s *namedServer, logger *log.Entry) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", s.name).Warn("http shutdown with error")
	}
}
