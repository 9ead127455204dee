package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/client"
	"github.com/db3-network/db3-go/internal/config"
	"github.com/db3-network/db3-go/internal/database"
	"github.com/db3-network/db3-go/internal/journal"
	"github.com/db3-network/db3-go/internal/logging"
	"github.com/db3-network/db3-go/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCommandTimeout = 30 * time.Second

// session bundles what a client command needs for one invocation.
type session struct {
	config  config.AppConfig
	logger  *zap.Logger
	client  *client.Client
	journal *journal.Journal
	closers []func()
}

func (s *session) Close() {
	for index := len(s.closers) - 1; index >= 0; index-- {
		s.closers[index]()
	}
}

func loadConfigAndLogger() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewCLILogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

// openSession connects to the node. When withAccount is set the account key
// is loaded and the nonce synchronized, so the session can submit.
func openSession(ctx context.Context, withAccount bool) (*session, error) {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}
	current := &session{config: appConfig, logger: logger}
	current.closers = append(current.closers, func() { _ = logger.Sync() })

	nodeTransport, err := transport.NewHTTP(transport.HTTPConfig{
		BaseURL:    appConfig.NodeURL,
		HTTPClient: &http.Client{Timeout: appConfig.RequestTimeout},
		Logger:     logger,
	})
	if err != nil {
		current.Close()
		return nil, err
	}

	clientConfig := client.Config{Transport: nodeTransport, Logger: logger}
	if withAccount {
		if err := appConfig.RequireAccount(); err != nil {
			current.Close()
			return nil, err
		}
		signer, err := account.FromPrivateKeyHex(appConfig.PrivateKey, account.Config{Clock: time.Now})
		if err != nil {
			current.Close()
			return nil, err
		}
		clientConfig.Signer = signer

		if appConfig.JournalEnabled() {
			entries, err := openJournal(current, appConfig.JournalPath, logger)
			if err != nil {
				current.Close()
				return nil, err
			}
			clientConfig.Journal = entries
		}
	} else {
		// Read-only commands never submit; any non-zero address satisfies
		// the client.
		clientConfig.Address = readOnlyAddress
	}

	current.client, err = client.New(clientConfig)
	if err != nil {
		current.Close()
		return nil, err
	}
	if withAccount {
		if err := current.client.SyncNonce(ctx); err != nil {
			current.Close()
			return nil, err
		}
	}
	return current, nil
}

func openJournal(current *session, path string, logger *zap.Logger) (*journal.Journal, error) {
	db, err := database.OpenJournal(path, logger)
	if err != nil {
		return nil, err
	}
	current.closers = append(current.closers, func() { closeDatabase(db) })
	entries, err := journal.New(journal.Config{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	current.journal = entries
	return entries, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// commandContext bounds a command by request.timeout_seconds so a stuck
// node cannot hold the nonce lease forever.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := time.Duration(viper.GetInt("request.timeout_seconds")) * time.Second
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
