// Command replicator is the CLI driver for the net-change replication
// engine (spec.md §6's "Driver surface"). It wires the Datamart Gateway,
// ER Gateway, Résumé Codec, Net-Change Engine, Report Aggregator and
// Alert Processor into one Replication Orchestrator, then feeds it
// newline-delimited JSON notifications read from stdin or a file.
//
// The bulk-backfill loop and the real ER-engine wiring behind an actual
// production endpoint are out of scope per spec.md §1; this driver only
// reads notifications from the --input stream instead.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/senzing-garage/g2-replicator/internal/config"
	"github.com/senzing-garage/g2-replicator/pkg/alert"
	"github.com/senzing-garage/g2-replicator/pkg/codec"
	"github.com/senzing-garage/g2-replicator/pkg/cprint"
	"github.com/senzing-garage/g2-replicator/pkg/datamart"
	"github.com/senzing-garage/g2-replicator/pkg/diff"
	"github.com/senzing-garage/g2-replicator/pkg/ergateway"
	"github.com/senzing-garage/g2-replicator/pkg/notification"
	"github.com/senzing-garage/g2-replicator/pkg/orchestrator"
	"github.com/senzing-garage/g2-replicator/pkg/rlog"
	"github.com/senzing-garage/g2-replicator/pkg/stats"
)

var (
	flagConfigPath string
	flagEntityList string
	flagDataSource string
	flagPurge      bool
	flagDebug      bool
	flagInputPath  string
)

func main() {
	root := &cobra.Command{
		Use:           "replicator",
		Short:         "Incremental ER-to-datamart replicator",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}
	root.Flags().StringVar(&flagConfigPath, "config", "", "path to replicator.yaml")
	root.Flags().StringVar(&flagEntityList, "entity-list", "", `"all" or a CSV of entity ids; overrides the config file scope`)
	root.Flags().StringVar(&flagDataSource, "data-source", "", "restrict the run to a single data source; overrides the config file scope")
	root.Flags().BoolVar(&flagPurge, "purge", false, "truncate every datamart table before processing (never invoked by the engine itself)")
	root.Flags().BoolVar(&flagDebug, "debug", false, "emit stat_log debug lines")
	root.Flags().StringVar(&flagInputPath, "input", "-", `notification NDJSON source; "-" reads stdin`)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("replicator: config init failed: %w", err)
	}
	if flagEntityList != "" {
		cfg.Scope.EntityList = flagEntityList
	}
	if flagDataSource != "" {
		cfg.Scope.DataSource = flagDataSource
	}

	log := rlog.New(flagDebug, cfg.Log.Pretty)

	db, err := sql.Open("postgres", cfg.Datamart.DSN)
	if err != nil {
		return fmt.Errorf("replicator: opening datamart connection: %w", err)
	}
	defer db.Close()

	dm := datamart.New(db, log)

	if flagPurge {
		log.Warn().Msg("purge requested: truncating all datamart tables")
		if err := dm.PurgeAll(ctx); err != nil {
			return fmt.Errorf("replicator: purge failed: %w", err)
		}
	}

	er := ergateway.New(cfg.EREngine.BaseURL)
	cdc := codec.New(cfg.Codec.MaxHashBytes)
	sink := stats.New(log, flagDebug)
	policy := alert.WatchlistPolicy{}
	engine := diff.New(er, dm, cdc, policy, sink, log)
	alerts := alert.New(er, dm, policy, sink, log)
	orch := orchestrator.New(dm, engine, alerts, cfg.Alerts.Enabled, sink, log)

	entityIDs, scopeAll, err := cfg.Scope.EntityIDs()
	if err != nil {
		return fmt.Errorf("replicator: config init failed: %w", err)
	}
	scope := newScopeFilter(scopeAll, entityIDs, cfg.Scope.DataSource)

	in, closeIn, err := openInput(flagInputPath)
	if err != nil {
		return err
	}
	defer closeIn()

	summary := cprint.RunSummary{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var n notification.Notification
		if err := json.Unmarshal(line, &n); err != nil {
			log.Error().Err(err).Msg("skipping malformed notification line")
			continue
		}
		if !scope.includes(n) {
			continue
		}

		status := orch.Process(ctx, n)
		switch status {
		case notification.StatusOK:
			summary.Created++
		case notification.StatusAPIError:
			summary.Updated++
			log.Error().Str("status", status.String()).
				Str("data_source", n.DataSource).Str("record_id", n.RecordID).
				Msg("notification completed with errors")
		case notification.StatusSQLError:
			summary.Deleted++
			log.Error().Str("status", status.String()).
				Str("data_source", n.DataSource).Str("record_id", n.RecordID).
				Msg("notification completed with errors")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replicator: reading notifications: %w", err)
	}

	if flagDebug {
		for category, subs := range sink.Snapshot() {
			for subcategory, n := range subs {
				sink.Debug(category, subcategory, fmt.Sprintf("stat_log %s/%s = %d", category, subcategory, n))
			}
		}
	}

	cprint.Summary(summary)
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("replicator: opening input %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// scopeFilter applies the driver-only --entity-list/--data-source scoping
// supplemented from original_source/ (SPEC_FULL.md §11). The Orchestrator
// and Net-Change Engine never see filtered-out notifications.
type scopeFilter struct {
	all        bool
	entityIDs  map[int64]struct{}
	dataSource string
}

func newScopeFilter(all bool, ids []int64, dataSource string) scopeFilter {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return scopeFilter{all: all, entityIDs: set, dataSource: dataSource}
}

func (s scopeFilter) includes(n notification.Notification) bool {
	if s.dataSource != "" && n.DataSource != s.dataSource {
		return false
	}
	if s.all {
		return true
	}
	for _, ae := range n.AffectedEntities {
		if _, ok := s.entityIDs[ae.EntityID]; ok {
			return true
		}
	}
	return false
}
