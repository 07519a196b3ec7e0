package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-docflow/internal/auth"
	"github.com/pesio-ai/be-docflow/internal/client"
	"github.com/pesio-ai/be-docflow/internal/config"
	"github.com/pesio-ai/be-docflow/internal/handler"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/seed"
	"github.com/pesio-ai/be-docflow/internal/service"
	"github.com/pesio-ai/be-docflow/internal/tracing"
)

func newServeCmd(configPath *string) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, seedFile)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file applied at startup")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, log *logger.Logger, seedFile string) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting docflow")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.Output)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	if seedFile != "" {
		f, err := seed.ParseFile(seedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, f, st.workflows, st.directory, log); err != nil {
			return err
		}
	}

	// Notification transport
	var notifier service.Notifier
	var realtime service.Realtime
	if cfg.NATS.URL != "" {
		conn, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer conn.Drain()
		pub := client.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, log.Component("nats"))
		notifier, realtime = pub, pub
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		pub := client.NewLogPublisher(log.Component("notifications"))
		notifier, realtime = pub, pub
		log.Warn().Msg("nats.url not set; notifications are logged only")
	}

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		QueueSize: cfg.Dispatcher.QueueSize,
		Workers:   cfg.Dispatcher.Workers,
		Timeout:   cfg.Dispatcher.Timeout,
	}, log.Component("dispatcher"))

	resolver := service.NewRoutingResolver(st.workflows, st.documents, log.Component("routing"))
	documentService := service.NewDocumentService(
		st.documents, st.workflows, resolver, st.directory, notifier, realtime, dispatcher,
		service.DocumentServiceConfig{
			MaxFileSize:      cfg.Upload.MaxFileSize,
			AllowedTypes:     cfg.Upload.AllowedTypes,
			AuditAssignments: cfg.Workflow.AuditAssignments,
		},
		log.Component("documents"),
	)
	workflowService := service.NewWorkflowService(st.workflows, log.Component("workflows"))

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(cfg.Service.Name))
	handler.NewHTTPHandler(documentService, workflowService, log).Register(e)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor()))
	handler.NewGRPCHandler(documentService, log).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}
	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	// Drain side effects after the servers stop accepting work.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Dispatcher did not drain before shutdown timeout")
	}

	log.Info().Msg("Server stopped")
	return nil
}
