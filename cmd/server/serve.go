package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/application/services"
	"github.com/JongoDB/ems-cop-sub001/internal/infrastructure/database"
	"github.com/JongoDB/ems-cop-sub001/internal/infrastructure/messaging"
	"github.com/JongoDB/ems-cop-sub001/internal/infrastructure/persistence"
	"github.com/JongoDB/ems-cop-sub001/internal/interfaces/rest"
	"github.com/JongoDB/ems-cop-sub001/pkg/expression"
)

func (c *cli) openDatabase(ctx context.Context) (*database.Connection, error) {
	return database.Open(ctx, database.Options{
		Host:     c.cfg.DB.Host,
		Port:     c.cfg.DB.Port,
		User:     c.cfg.DB.User,
		Password: c.cfg.DB.Password,
		Name:     c.cfg.DB.Name,
		TLS:      c.cfg.DB.TLS,
	})
}

func (c *cli) migrate(cmd *cobra.Command, _ []string) error {
	conn, err := c.openDatabase(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := persistence.Migrate(cmd.Context(), conn.DB()); err != nil {
		return err
	}
	c.logger.Info("schema applied", zap.Int("statements", len(persistence.Schema)))
	return nil
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	log := c.logger
	defer func() { _ = log.Sync() }()

	conn, err := c.openDatabase(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("database connection established", zap.String("host", c.cfg.DB.Host), zap.String("database", c.cfg.DB.Name))

	db := conn.DB()
	definitionsRepo := persistence.NewWorkflowRepository(db)
	runsRepo := persistence.NewRunRepository(db)
	ticketsRepo := persistence.NewTicketRepository(db)
	tx := persistence.NewTransactionManager(db, log)

	bus := services.NewEventBus(log)
	evaluator := expression.NewEvaluator()
	cache := services.NewGraphCache(c.cfg.Workflow.GraphCacheCleanup)

	definitions := services.NewDefinitionService(definitionsRepo, runsRepo, ticketsRepo, tx, bus, cache, evaluator, log)
	engine := services.NewRunEngine(definitions, runsRepo, ticketsRepo, tx, bus, services.NewRunLocker(), evaluator, log,
		services.RunEngineOptions{
			SuperRole:   c.cfg.Workflow.SuperRole,
			MaxAutoHops: c.cfg.Workflow.MaxAutoHops,
		})

	listener := services.NewTicketListener(engine, definitions, ticketsRepo, log)
	defer listener.Register(bus)()

	if len(c.cfg.Redis.Addrs) > 0 {
		client := messaging.NewRedisClient(c.cfg.Redis.Addrs)
		defer client.Close()
		if err := client.Ping(cmd.Context()).Err(); err != nil {
			log.Warn("redis unreachable, relay will keep retrying per event", zap.Strings("addrs", c.cfg.Redis.Addrs), zap.Error(err))
		}
		relay := messaging.NewRedisRelay(client, c.cfg.Redis.Channel, c.cfg.Redis.QueueSize, log)
		relay.Attach(bus)
		defer relay.Detach()
	}

	escalation := services.NewEscalationService(engine, c.cfg.Workflow.EscalationInterval, log)
	if err := escalation.Start(); err != nil {
		return err
	}
	defer escalation.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := rest.NewRouter(rest.RouterConfig{
		Workflows:      definitions,
		Runs:           engine,
		Bus:            bus,
		Logger:         log,
		AllowedOrigins: c.cfg.Server.AllowedOrigins,
		Health:         conn.Ping,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", c.cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("workflow engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
