// Package webserver provides the HTTP server with the websocket endpoint for
// players and read-only session queries.
package webserver

import (
	"context"
	"github.com/gorilla/mux"
	"github.com/lefinal/royale-server/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const (
	// DefaultServeAddr is the default address to serve on.
	DefaultServeAddr = ":8080"
	// DefaultWriteTimeout is the default timeout for writing.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultReadTimeout is the default timeout for reading.
	DefaultReadTimeout = 15 * time.Second
	// shutdownTimeout is the timeout for graceful shutdown.
	shutdownTimeout = 15 * time.Second
)

// WebServer serves the websocket endpoint and the REST API.
type WebServer struct {
	logger     *zap.Logger
	config     Config
	httpServer *http.Server
	router     *mux.Router
}

// Config is the configuration that is used in order to create and run a web
// server.
type Config struct {
	// ServeAddr for the web server to listen to.
	ServeAddr string
	// WriteTimeout is the duration to wait until write fails with a timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the duration to wait until read fails with a timeout.
	ReadTimeout time.Duration
}

// NewWebServer creates a new WebServer. Run it with WebServer.Run and do not
// forget to call WebServer.PopulateRoutes before.
func NewWebServer(logger *zap.Logger, config Config) (*WebServer, error) {
	if config.ServeAddr == "" {
		return nil, errors.NewInternalError("no addr provided in config", nil)
	}
	server := &WebServer{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
	}
	server.router.Use(loggingMiddleware(logger))
	server.router.Use(noCacheMiddleware)
	server.router.NotFoundHandler = noCacheMiddleware(loggingMiddleware(logger)(http.NotFoundHandler()))
	server.httpServer = &http.Server{
		Handler: cors.New(cors.Options{
			AllowedMethods: []string{http.MethodGet},
		}).Handler(server.router),
		Addr:         config.ServeAddr,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	return server, nil
}

// Handler returns the handler including CORS handling.
func (server *WebServer) Handler() http.Handler {
	return server.httpServer.Handler
}

// Run starts the web server and blocks until the given context is done.
func (server *WebServer) Run(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() {
		server.logger.Info("web server running", zap.String("addr", server.config.ServeAddr))
		err := server.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			listenErr <- errors.Error{
				Code:    errors.ErrInternal,
				Err:     err,
				Message: "listen and serve",
				Details: errors.Details{"addr": server.config.ServeAddr},
			}
		}
		close(listenErr)
	}()
	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return errors.Wrap(err, "shutdown web server", nil)
	}
	return nil
}
