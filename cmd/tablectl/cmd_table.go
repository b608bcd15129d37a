package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"expense-agent/internal/app"
	"expense-agent/internal/config"
	"expense-agent/internal/domain"
	"expense-agent/internal/logger"
	"expense-agent/internal/repository"
)

var createTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create the table if it does not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store repository.TableStore, _ zerolog.Logger) error {
			if err := store.CreateTable(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "table ready")
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Write records from a YAML or JSON file",
	Long: `Reads a list of records and writes them in atomic per-partition batches of at most 100.

Each record has the shape:
  - partitionKey: 42-2024-01
    rowKey: "000001"
    payload:
      memo: coffee
      amount: "50"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opName, _ := cmd.Flags().GetString("op")
		op, err := parseOp(opName)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open records file: %w", err)
		}
		defer f.Close()
		records, err := readRecords(f)
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, store repository.TableStore, log zerolog.Logger) error {
			n, err := importRecords(ctx, store, records, op, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d records\n", op, n)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records matching a partition and/or row key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := filterFromFlags(cmd)
		countOnly, _ := cmd.Flags().GetBool("count")
		return withStore(cmd, func(ctx context.Context, store repository.TableStore, _ zerolog.Logger) error {
			if countOnly {
				n, err := repository.Count(ctx, store, filter)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}
			return writeRecords(ctx, cmd.OutOrStdout(), store, filter)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete records matching a partition and/or row key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := filterFromFlags(cmd)
		if filter.PartitionKey == "" && filter.RowKey == "" {
			return fmt.Errorf("refusing to delete without --partition or --row")
		}
		return withStore(cmd, func(ctx context.Context, store repository.TableStore, log zerolog.Logger) error {
			n, err := deleteMatching(ctx, store, filter, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		})
	},
}

func init() {
	importCmd.Flags().String("op", string(repository.OpUpsert), "Write mode: insert, upsert or delete")

	for _, c := range []*cobra.Command{listCmd, deleteCmd} {
		c.Flags().StringP("partition", "p", "", "Partition key")
		c.Flags().StringP("row", "r", "", "Row key")
	}
	listCmd.Flags().Bool("count", false, "Print only the number of matches")
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store repository.TableStore, log zerolog.Logger) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.StoreBackend = v
	}
	if v, _ := cmd.Flags().GetString("sqlite-path"); v != "" {
		cfg.SQLitePath = v
	}
	table, _ := cmd.Flags().GetString("table")
	log := logger.New(cfg)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	backend, err := app.OpenBackend(cfg, awsCfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := backend.Table(table)
	if err != nil {
		return err
	}
	return fn(ctx, store, log)
}

func filterFromFlags(cmd *cobra.Command) repository.Filter {
	pk, _ := cmd.Flags().GetString("partition")
	rk, _ := cmd.Flags().GetString("row")
	return repository.Filter{PartitionKey: strings.TrimSpace(pk), RowKey: strings.TrimSpace(rk)}
}

func parseOp(s string) (repository.Op, error) {
	switch op := repository.Op(strings.ToLower(strings.TrimSpace(s))); op {
	case repository.OpInsert, repository.OpUpsert, repository.OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown op %q: want insert, upsert or delete", s)
	}
}

// readRecords decodes a YAML list of records. JSON input works too since it
// is valid YAML.
func readRecords(r io.Reader) ([]domain.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []domain.Record
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&records); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for i, rec := range records {
		if rec.PartitionKey == "" || rec.RowKey == "" {
			return nil, fmt.Errorf("record %d: partitionKey and rowKey are required", i)
		}
	}
	return records, nil
}

func importRecords(ctx context.Context, store repository.TableStore, records []domain.Record, op repository.Op, log zerolog.Logger) (int, error) {
	if op != repository.OpDelete {
		if err := store.CreateTable(ctx); err != nil {
			return 0, err
		}
	}
	w, err := repository.NewBatchWriter(store, log)
	if err != nil {
		return 0, err
	}
	if err := w.WriteBatch(ctx, records, op); err != nil {
		return 0, err
	}
	return len(records), nil
}

func deleteMatching(ctx context.Context, store repository.TableStore, filter repository.Filter, log zerolog.Logger) (int, error) {
	records, err := repository.ListAll(ctx, store, filter)
	if err != nil {
		return 0, err
	}
	w, err := repository.NewBatchWriter(store, log)
	if err != nil {
		return 0, err
	}
	if err := w.DeleteBatch(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// writeRecords prints one JSON document per line.
func writeRecords(ctx context.Context, out io.Writer, store repository.TableStore, filter repository.Filter) error {
	enc := json.NewEncoder(out)
	for rec, err := range store.List(ctx, filter) {
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}
