package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scoutline/internal/app"
	"scoutline/internal/config"
	"scoutline/internal/db"
	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/events"
	"scoutline/internal/ingest"
	"scoutline/internal/logger"
	"scoutline/internal/migrate"
	"scoutline/internal/poll"
	"scoutline/internal/repo"
	"scoutline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Scoutline CLI",
	Long: `Scoutline finds underpriced marketplace listings and turns them into deals for an operator to approve.
- Scout cycle: search the marketplace with a few rotating queries, estimate resale value and drop risky listings.
- Deal: a listing that survived the risk filter, paired with a mission in the operator's inbox.
- Decision: approve, reject or escalate; each deal is decided exactly once.
- Escalation: a review mission for the reviewer agent, linked back to the deal.
- Event log: every change, view with 'sl events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := config.LoadDotEnv(workspace); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCOUTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "operator issuing commands (defaults to the first configured operator)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scoutCmd())
	rootCmd.AddCommand(dealsCmd())
	rootCmd.AddCommand(missionsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(benchmarksCmd())
	rootCmd.AddCommand(operatorsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(remoteCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default scoutline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Auth.JWTSecret = redact(cfg.Auth.JWTSecret)
			redacted.Auth.CronSecret = redact(cfg.Auth.CronSecret)
			redacted.Marketplace.ClientSecret = redact(cfg.Marketplace.ClientSecret)
			redacted.Notify.Telegram.Token = redact(cfg.Notify.Telegram.Token)
			return printJSON(redacted)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate scoutline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", version)
			return nil
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, cron trigger and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr != "" {
					a.Config.Server.Addr = addr
				}
				if basePath != "" {
					a.Config.Server.BasePath = basePath
				}
				if a.Config.Auth.JWTSecret == "" {
					return fmt.Errorf("SCOUTLINE_JWT_SECRET is required for bearer auth")
				}
				if a.Config.Auth.CronSecret == "" {
					a.Log.Warn("SCOUTLINE_CRON_SECRET is not set; the cron trigger will refuse every call")
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				wait, err := a.Webhooks().Start(ctx)
				if err != nil {
					cancel()
					return err
				}
				defer wait()
				defer cancel()

				srv := &http.Server{Addr: a.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.WithField("addr", a.Config.Server.Addr).Info("serving scoutline api")
				fmt.Printf("Serving Scoutline API on http://%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", a.Config.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// --- scout ---

func scoutCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scout", Short: "Scout cycles"}
	var queries []string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one scout cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Scout.Run(ctx, ingest.RunOptions{Queries: queries})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("run %s: %d approved, %d passed, %d tracked, %d errors (%s)\n",
					sum.RunID, sum.Approved, sum.Passed, sum.Tracked, sum.Errors, sum.Finished.Sub(sum.Started).Round(time.Millisecond))
				return nil
			})
		},
	}
	run.Flags().StringArrayVar(&queries, "query", nil, "search query (repeatable; overrides rotation)")
	cmd.AddCommand(run)
	cmd.AddCommand(&cobra.Command{
		Use:   "queries",
		Short: "Show which queries the rotation picks this hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			picked := ingest.RotateQueries(cfg.Ingest.Queries, time.Now().UTC().Hour(), cfg.Ingest.QueriesPerRun)
			return printJSON(picked)
		},
	})
	return cmd
}

// --- deals ---

func dealsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deals",
		Short: "Review and decide deals",
		Long:  "Deals wait in pending until an operator approves, rejects or escalates them. A decided deal cannot be decided again.",
	}
	cmd.AddCommand(dealsListCmd())
	cmd.AddCommand(dealsShowCmd())
	cmd.AddCommand(dealsApproveCmd())
	cmd.AddCommand(dealsRejectCmd())
	cmd.AddCommand(dealsEscalateCmd())
	cmd.AddCommand(dealsAuditCmd())
	cmd.AddCommand(dealsWaitCmd())
	cmd.AddCommand(trendsCmd())
	return cmd
}

func dealsListCmd() *cobra.Command {
	var status string
	var includeRejected bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDeals(ctx, repo.DealFilters{Status: status, IncludeRejected: includeRejected, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Price", "Value", "ROI %", "Profit", "Priority", "Status"})
				for _, d := range items {
					tw.AppendRow(table.Row{
						d.ID, truncate(d.Title, 48),
						fmt.Sprintf("$%.2f", d.Price), fmt.Sprintf("$%.2f", d.EstimatedValue),
						fmt.Sprintf("%.1f", d.ROIPercent), fmt.Sprintf("$%.2f", d.Profit),
						d.Priority, d.DisplayStatus,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by deal status")
	cmd.Flags().BoolVar(&includeRejected, "include-rejected", false, "include rejected deals")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func dealsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <deal-id>",
		Short: "Show one deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetDealView(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func dealsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <deal-id>",
		Short: "Approve a pending deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Approve(ctx, cliAuth(a), args[0])
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
}

func dealsRejectCmd() *cobra.Command {
	var reason string
	var strict bool
	cmd := &cobra.Command{
		Use:   "reject <deal-id>",
		Short: "Reject a pending deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reject := a.Engine.Reject
				if strict {
					reject = a.Engine.RejectStrict
				}
				res, err := reject(ctx, cliAuth(a), args[0], reason)
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the deal was passed on")
	cmd.Flags().BoolVar(&strict, "strict", false, "require a reason")
	return cmd
}

func dealsEscalateCmd() *cobra.Command {
	var note string
	var dedupe bool
	cmd := &cobra.Command{
		Use:   "escalate <deal-id>",
		Short: "Ask the reviewer agent for an opinion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Escalate(ctx, cliAuth(a), args[0], engine.EscalateOptions{Dedupe: dedupe, Note: note})
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "extra context for the reviewer")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "refuse if an open escalation already exists")
	return cmd
}

func dealsAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <deal-id>",
		Short: "Show decisions recorded for a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAudit(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Action", "By", "Source"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.CreatedAt, a.Action, a.PerformedBy, a.Source})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func dealsWaitCmd() *cobra.Command {
	var interval, maxWait time.Duration
	cmd := &cobra.Command{
		Use:   "wait <deal-id>",
		Short: "Block until a deal leaves pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := a.PollOptions()
				if interval > 0 {
					opts.Interval = interval
				}
				if maxWait > 0 {
					opts.MaxWait = maxWait
				}
				var deal domain.Deal
				res, err := poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
					d, err := a.Repo.GetDeal(ctx, args[0])
					if err != nil {
						return false, err
					}
					deal = d
					return d.Terminal(), nil
				})
				if err != nil {
					return err
				}
				if res.TimedOut {
					return fmt.Errorf("deal %s still pending after %s", args[0], opts.MaxWait)
				}
				return printJSON(deal)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to config)")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "give up after this long (defaults to config)")
	return cmd
}

func trendsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Listings the risk filter passed on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTrends(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Type", "Model", "Price", "Value", "Reason"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.CreatedAt, t.ItemType, t.Model, fmt.Sprintf("$%.2f", t.AvgPrice), fmt.Sprintf("$%.2f", t.AvgValue), t.PassReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

// --- missions ---

func missionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "missions", Short: "Missions (work items for agents and operators)"}
	var assignedTo, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMissions(ctx, repo.MissionFilters{AssignedTo: assignedTo, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Agent", "Assigned", "Priority", "Status"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, truncate(m.Title, 48), m.AgentID, m.AssignedTo, m.Priority, m.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&assignedTo, "assigned-to", "", "filter by assignee")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.AddCommand(list)

	var in engine.MissionInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.SubmitMission(ctx, cliAuth(a), in)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "mission title")
	create.Flags().StringVar(&in.Description, "description", "", "mission description")
	create.Flags().StringVar(&in.AgentID, "agent", "", "owning agent (defaults to the actor)")
	create.Flags().StringVar(&in.AssignedTo, "assign", "", "assignee")
	create.Flags().StringVar(&in.Priority, "priority", "", "urgent, high or normal")
	create.Flags().StringVar(&in.Status, "status", "", "initial status (default inbox)")
	cmd.AddCommand(create)
	return cmd
}

// --- agents ---

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Agents and their activity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgents(ctx, cfg.Auth.Operators...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Status", "Last heartbeat"})
				for _, ag := range items {
					hb := ""
					if ag.LastHeartbeat != nil {
						hb = *ag.LastHeartbeat
					}
					tw.AppendRow(table.Row{ag.ID, ag.Name, ag.Role, ag.Status, hb})
				}
				tw.Render()
				return nil
			})
		},
	})
	var limit int
	activity := &cobra.Command{
		Use:   "activity <agent-id>",
		Short: "Show an agent's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActivity(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	activity.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.AddCommand(activity)
	return cmd
}

// --- events ---

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Event log",
		Long:  "Every deal and mission change is recorded as an event; webhooks and 'tail --follow' read the same log.",
	}
	var n int
	var evtType, entityKind, entityID, field, value string
	var follow bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !follow {
					items, err := a.Repo.LatestEvents(ctx, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
					if err != nil {
						return err
					}
					return printJSON(items)
				}
				filter := events.Filter{EntityKind: entityKind, Field: field, Value: value}
				if filter.Field == "" && evtType != "" {
					filter.Field, filter.Value = "type", evtType
				}
				ch, err := a.Feed().Subscribe(ctx, filter)
				if err != nil {
					return err
				}
				for evt := range ch {
					if err := printJSON(evt); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (deal, mission)")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events")
	tail.Flags().StringVar(&field, "field", "", "with --follow, payload field to match")
	tail.Flags().StringVar(&value, "value", "", "with --field, required value")
	cmd.AddCommand(tail)
	return cmd
}

// --- benchmarks ---

func benchmarksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmarks",
		Short: "Average sold prices used by the value estimator",
	}
	var model, itemType, price string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the benchmark price for a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" || price == "" {
				return fmt.Errorf("--model and --price required")
			}
			p, err := decimal.NewFromString(price)
			if err != nil || !p.IsPositive() {
				return fmt.Errorf("invalid --price %q", price)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f, _ := p.Float64()
				return r.UpsertBenchmark(ctx, domain.Benchmark{
					Model:        strings.ToLower(strings.TrimSpace(model)),
					ItemType:     itemType,
					AvgSoldPrice: f,
					UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
				})
			})
		},
	}
	set.Flags().StringVar(&model, "model", "", "normalized model, e.g. \"iphone 13\"")
	set.Flags().StringVar(&itemType, "item-type", "electronics", "item type")
	set.Flags().StringVar(&price, "price", "", "average sold price")
	cmd.AddCommand(set)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBenchmarks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Model", "Type", "Avg sold", "Updated"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.Model, b.ItemType, fmt.Sprintf("$%.2f", b.AvgSoldPrice), b.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

// --- operators, api keys, tokens ---

func operatorsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "operators", Short: "People allowed to decide deals"}
	var name string
	add := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Register an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.EnsureOperator(ctx, domain.Operator{ID: args[0], DisplayName: name, CreatedAt: time.Now().UTC().Format(time.RFC3339)})
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOperators(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <actor-id>",
		Short: "Remove an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.RemoveOperator(ctx, args[0])
			})
		},
	})
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for front-ends"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			key := "sl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": rec.ID, "actor_id": actor, "key": key})
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list <actor-id>",
		Short: "List API keys for an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var actor string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with SCOUTLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if actor == "" {
				actor = defaultActor(cfg)
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "subject of the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

// --- helpers ---

// loadConfig reads scoutline.yml (or the defaults) and overlays the
// SCOUTLINE_* environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if level := strings.TrimSpace(viper.GetString("log-level")); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stderr,
		ServiceName: "scoutline",
		File:        cfg.Logging.File,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func defaultActor(cfg *config.Config) string {
	if actor := strings.TrimSpace(viper.GetString("actor-id")); actor != "" {
		return actor
	}
	if len(cfg.Auth.Operators) > 0 {
		return cfg.Auth.Operators[0]
	}
	return ""
}

func cliAuth(a *app.App) engine.AuthContext {
	return engine.AuthContext{ActorID: defaultActor(a.Config), Source: "cli"}
}

func printTransition(res engine.TransitionResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	switch res.Outcome {
	case engine.OutcomeNotFound:
		return fmt.Errorf("deal not found")
	case engine.OutcomeAlreadyActioned:
		status := ""
		if res.Deal != nil {
			status = res.Deal.Status
		}
		fmt.Printf("already actioned (status %s)\n", status)
		return nil
	}
	if res.Mission != nil && res.Deal != nil && res.Mission.ID != res.Deal.MissionID {
		fmt.Printf("escalated: review mission %s assigned to %s\n", res.Mission.ID, res.Mission.AssignedTo)
		return nil
	}
	if res.Deal != nil {
		fmt.Printf("deal %s is now %s\n", res.Deal.ID, res.Deal.Status)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
