package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/db3-network/db3-go/internal/config"
	"github.com/db3-network/db3-go/internal/database"
	"github.com/db3-network/db3-go/internal/devnode"
	"github.com/db3-network/db3-go/internal/logging"
	"github.com/db3-network/db3-go/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newDevnodeCommand() *cobra.Command {
	devnodeCmd := &cobra.Command{
		Use:   "devnode",
		Short: "Run a single-process storage node for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevnode(cmd.Context())
		},
	}

	defaults := config.NewViper()
	devnodeCmd.Flags().String("address", defaults.GetString("devnode.address"), "HTTP listen address")
	devnodeCmd.Flags().String("database-path", defaults.GetString("devnode.database_path"), "SQLite node database path")
	devnodeCmd.Flags().Bool("allow-unsigned", defaults.GetBool("devnode.allow_unsigned"), "Accept submissions without a signature")
	devnodeCmd.Flags().Int("heartbeat-seconds", defaults.GetInt("devnode.heartbeat_seconds"), "Event stream heartbeat interval in seconds")

	bindLocalFlag(devnodeCmd, "devnode.address", "address")
	bindLocalFlag(devnodeCmd, "devnode.database_path", "database-path")
	bindLocalFlag(devnodeCmd, "devnode.allow_unsigned", "allow-unsigned")
	bindLocalFlag(devnodeCmd, "devnode.heartbeat_seconds", "heartbeat-seconds")

	return devnodeCmd
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func runDevnode(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenNode(appConfig.DevnodeDatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	nodeService, err := devnode.NewService(devnode.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    devnode.NewUUIDProvider(),
		Logger:        logger,
		AllowUnsigned: appConfig.DevnodeAllowUnsigned,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Node:              nodeService,
		Realtime:          server.NewRealtimeDispatcher(),
		HeartbeatInterval: appConfig.DevnodeHeartbeat,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.DevnodeAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devnode starting",
			zap.String("address", appConfig.DevnodeAddress),
			zap.String("database_path", appConfig.DevnodeDatabasePath),
			zap.Bool("allow_unsigned", appConfig.DevnodeAllowUnsigned),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("devnode shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
