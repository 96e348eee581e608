package service

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/config"
	"whatsapp-inbox/pkg/handlers"
	"whatsapp-inbox/pkg/inbox"
	"whatsapp-inbox/pkg/metrics"
	"whatsapp-inbox/pkg/server"
	"whatsapp-inbox/pkg/storage"
)

// Service owns one inbox process: its stores, the inbox core and the HTTP server
type Service struct {
	config   *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	stores   *storage.Stores
	inbox    *inbox.Inbox
	server   *http.Server
	listener net.Listener
}

func NewService(stores *storage.Stores, config *config.Config, logger *logrus.Logger, metrics *metrics.Metrics, gatherer prometheus.Gatherer) *Service {
	ib := inbox.NewInbox(stores.Logs, stores.Watermarks, InboxOptions(config), logger, metrics)

	return &Service{
		config:   config,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
		stores:   stores,
		inbox:    ib,
	}
}

// InboxOptions maps the window settings of config onto inbox.Options
func InboxOptions(config *config.Config) inbox.Options {
	return inbox.Options{
		SummaryWindow: config.SummaryWindow,
		MessageLimit:  config.MessageLimit,
		MaxWindow:     config.MaxWindow,
	}
}

func (s *Service) Inbox() *inbox.Inbox {
	return s.inbox
}

// Start binds the listener and serves in the background. A bind failure is
// returned here rather than killing the process later.
func (s *Service) Start(ctx context.Context) error {
	s.logger.WithField("instance_id", s.config.InstanceID).Info("Starting inbox service")

	handler := handlers.NewHandler(s.inbox, s.config.Classifier(), handlers.Settings{
		VerifyToken: s.config.VerifyToken,
		AppSecret:   s.config.AppSecret,
		Ping:        s.stores.Ping,
	}, s.logger, s.metrics)
	s.server = server.NewHTTPServer(s.config, handler, s.gatherer, s.logger)

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = listener

	go func() {
		s.logger.WithField("addr", listener.Addr().String()).Info("Starting HTTP server")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	s.logger.WithField("backend", s.stores.Backend).Info("Inbox service started successfully")
	return nil
}

// Addr is the bound listen address, useful when the configured port is 0
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting requests, waits for background appends already
// acknowledged to the provider, then closes the stores
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping inbox service")

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout())
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
		}
	}

	if err := s.inbox.Wait(ctx); err != nil {
		s.logger.WithError(err).Error("Background appends did not finish")
	}

	if err := s.stores.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close stores")
		return err
	}

	s.logger.Info("Inbox service stopped")
	return nil
}
