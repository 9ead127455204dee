package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/database"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/journal"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/spf13/cobra"
)

var readOnlyAddress = address.FromPublicKey([]byte("db3ctl/read-only"))

type submissionOutput struct {
	MutationID      string `json:"mutation_id"`
	DatabaseAddress string `json:"database_address,omitempty"`
	Account         string `json:"account"`
}

func newAccountCommand() *cobra.Command {
	accountCmd := &cobra.Command{Use: "account", Short: "Manage signing accounts"}

	accountCmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Generate a fresh Ed25519 account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			generated, err := account.Generate(account.Config{})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"address":     generated.Address().String(),
				"public_key":  generated.PublicKeyHex(),
				"private_key": generated.PrivateKeyHex(),
			})
		},
	})

	accountCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configured account and its next nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			next, err := current.client.Nonce()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"address": current.client.Address().String(),
				"nonce":   next,
			})
		},
	})

	return accountCmd
}

func newDatabaseCommand() *cobra.Command {
	databaseCmd := &cobra.Command{Use: "database", Short: "Manage document databases"}

	var description string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document database owned by the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			mutationID, databaseAddress, err := current.client.CreateDatabase(ctx, description)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submissionOutput{
				MutationID:      mutationID,
				DatabaseAddress: databaseAddress,
				Account:         current.client.Address().String(),
			})
		},
	}
	createCmd.Flags().StringVar(&description, "description", "", "Free-form database description")
	databaseCmd.AddCommand(createCmd)

	return databaseCmd
}

func newCollectionCommand() *cobra.Command {
	collectionCmd := &cobra.Command{Use: "collection", Short: "Manage collections"}

	var rawIndexes []string
	createCmd := &cobra.Command{
		Use:   "create <database-address> <name>",
		Short: "Add a collection to a database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexes, err := parseIndexes(rawIndexes)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			mutationID, err := current.client.CreateCollection(ctx, args[0], args[1], indexes)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submissionOutput{
				MutationID:      mutationID,
				DatabaseAddress: args[0],
				Account:         current.client.Address().String(),
			})
		},
	}
	createCmd.Flags().StringArrayVar(&rawIndexes, "index", nil, "Index as <path>:<type>, type one of unique_key, string_key, int64_key, double_key")
	collectionCmd.AddCommand(createCmd)

	return collectionCmd
}

func newDocumentCommand() *cobra.Command {
	documentCmd := &cobra.Command{Use: "document", Short: "Add, update and delete documents"}

	var addFile string
	addCmd := &cobra.Command{
		Use:   "add <database-address> <collection>",
		Short: "Add a JSON document read from --file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, addFile)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			mutationID, err := current.client.CreateDocument(ctx, args[0], args[1], doc)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submissionOutput{
				MutationID:      mutationID,
				DatabaseAddress: args[0],
				Account:         current.client.Address().String(),
			})
		},
	}
	addCmd.Flags().StringVar(&addFile, "file", "", "Path to a JSON document (defaults to stdin)")

	var updateFile string
	var maskFields []string
	updateCmd := &cobra.Command{
		Use:   "update <database-address> <collection> <document-id>",
		Short: "Update a document; --mask limits the change to named fields",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, updateFile)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			mutationID, err := current.client.UpdateDocument(ctx, args[0], args[1], doc, args[2], maskFields)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submissionOutput{
				MutationID:      mutationID,
				DatabaseAddress: args[0],
				Account:         current.client.Address().String(),
			})
		},
	}
	updateCmd.Flags().StringVar(&updateFile, "file", "", "Path to a JSON document (defaults to stdin)")
	updateCmd.Flags().StringSliceVar(&maskFields, "mask", nil, "Top-level fields to update")

	deleteCmd := &cobra.Command{
		Use:   "delete <database-address> <collection> <document-id>...",
		Short: "Delete one or more documents",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer current.Close()
			mutationID, err := current.client.DeleteDocument(ctx, args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submissionOutput{
				MutationID:      mutationID,
				DatabaseAddress: args[0],
				Account:         current.client.Address().String(),
			})
		},
	}

	documentCmd.AddCommand(addCmd, updateCmd, deleteCmd)
	return documentCmd
}

func newMutationCommand() *cobra.Command {
	mutationCmd := &cobra.Command{Use: "mutation", Short: "Inspect accepted mutations"}

	mutationCmd.AddCommand(&cobra.Command{
		Use:   "show <mutation-id>",
		Short: "Print one mutation header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer current.Close()
			header, err := current.client.MutationHeader(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), header)
		},
	})

	var start, limit int
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List mutation headers in block order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer current.Close()
			headers, err := current.client.ScanMutationHeaders(ctx, start, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), headers)
		},
	}
	scanCmd.Flags().IntVar(&start, "start", 0, "Offset of the first header")
	scanCmd.Flags().IntVar(&limit, "limit", 20, "Maximum headers to return")
	mutationCmd.AddCommand(scanCmd)

	return mutationCmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print storage node status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			current, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer current.Close()
			status, err := current.client.NodeStatus(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

type journalEntryOutput struct {
	EntryID         string `json:"entry_id"`
	Account         string `json:"account"`
	Nonce           string `json:"nonce"`
	Action          string `json:"action"`
	DatabaseAddress string `json:"database_address,omitempty"`
	PayloadHash     string `json:"payload_hash"`
	Status          string `json:"status"`
	MutationID      string `json:"mutation_id,omitempty"`
	Code            int    `json:"code"`
	Message         string `json:"message,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func newJournalCommand() *cobra.Command {
	journalCmd := &cobra.Command{Use: "journal", Short: "Inspect the local submission journal"}

	var accountFilter, statusFilter string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled submissions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if !appConfig.JournalEnabled() {
				return fmt.Errorf("journal.path is empty; journaling is disabled")
			}

			options := journal.ListOptions{Account: accountFilter, Limit: limit}
			if statusFilter != "" {
				options.Status, err = journal.ParseStatus(statusFilter)
				if err != nil {
					return err
				}
			}

			db, err := database.OpenJournal(appConfig.JournalPath, logger)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			entries, err := journal.New(journal.Config{Database: db, Logger: logger})
			if err != nil {
				return err
			}
			listed, err := entries.List(cmd.Context(), options)
			if err != nil {
				return err
			}
			output := make([]journalEntryOutput, 0, len(listed))
			for _, entry := range listed {
				output = append(output, journalEntryOutput{
					EntryID:         entry.EntryID,
					Account:         entry.Account,
					Nonce:           entry.Nonce,
					Action:          entry.Action,
					DatabaseAddress: entry.DatabaseAddress,
					PayloadHash:     entry.PayloadHash,
					Status:          string(entry.Status),
					MutationID:      entry.MutationID,
					Code:            entry.Code,
					Message:         entry.Message,
					CreatedAt:       time.Unix(entry.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
				})
			}
			return writeJSON(cmd.OutOrStdout(), output)
		},
	}
	listCmd.Flags().StringVar(&accountFilter, "account", "", "Only entries for this account address")
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Only entries in this status (pending, accepted, rejected, conflict, unknown)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")
	journalCmd.AddCommand(listCmd)

	return journalCmd
}

func parseIndexes(raw []string) ([]mutation.Index, error) {
	indexes := make([]mutation.Index, 0, len(raw))
	for _, spec := range raw {
		path, typeName, found := strings.Cut(spec, ":")
		if !found {
			typeName = mutation.IndexTypeStringKey.String()
		}
		indexType, ok := mutation.ParseIndexType(strings.TrimSpace(typeName))
		if !ok {
			return nil, fmt.Errorf("index %q: unknown type %q", spec, typeName)
		}
		indexes = append(indexes, mutation.Index{Path: strings.TrimSpace(path), Type: indexType})
	}
	return indexes, nil
}

func readDocument(cmd *cobra.Command, path string) (document.Value, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return document.FromJSON(data)
}
