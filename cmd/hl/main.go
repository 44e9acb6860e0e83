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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"hopline/internal/app"
	"hopline/internal/config"
	"hopline/internal/db"
	"hopline/internal/engine"
	"hopline/internal/repo"
	"hopline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Hopline CLI",
	Long: `Hopline guards payment forwarding between agents.
Core concepts:
- Chain: every hop forwarded under one root transaction; it must stay a simple path.
- Cycle: a chain that returns to an earlier agent. Forwards that would close one are refused.
- Stake: funds an agent locks as collateral; confirmed violations slash it.
- Cooperation credits: points for honest forwards and for reporting cycles.
- Trust level: excellent/good/fair/poor/new/sybil_risk/untrusted, derived from payments, feedback, violations, stake and sybil score.
- Decay: inactive agents get periodic reputation snapshots ('hl decay run').
- Event log: every state change, view with 'hl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(forwardCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(cyclesCmd())
	rootCmd.AddCommand(stakeCmd())
	rootCmd.AddCommand(violationCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(trustCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(decayCmd())
	rootCmd.AddCommand(snapshotsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default hopline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("Initialized workspace %s (config %s, db %s)\n", workspace, path, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing hopline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect hopline.yml",
		Long:  "Config holds chain depth, stake tiers, slash rates, reward and penalty points, decay timing and server limits. Missing keys use defaults.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate hopline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader, noDecay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the decay worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := app.Open(ctx, viper.GetString("workspace"), os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt_secret"),
				EnableDevLogin:         devLogin,
				AllowLegacyActorHeader: legacyHeader,
				Logger:                 rt.Log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("HOPLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:            rt.Engine,
				BasePath:          basePath,
				Auth:              authCfg,
				RequestsPerMinute: rt.Config.Server.RequestsPerMinute,
				MaxBodyBytes:      rt.Config.Server.MaxBodyBytes,
				TrustedProxies:    rt.Config.Server.TrustedProxies,
				Logger:            rt.Log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				rt.Log.Info("serving hopline api", "addr", addr, "base_path", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if !noDecay {
				worker := server.DecayWorker{Engine: rt.Engine, Interval: rt.Config.DecayInterval()}
				g.Go(func() error { return worker.Run(gctx) })
			}
			fmt.Printf("Serving Hopline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs, metrics at /metrics)\n", addr, basePath, basePath, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id for read-only access")
	cmd.Flags().BoolVar(&noDecay, "no-decay", false, "do not run the decay worker")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every state change: agents, hops, cycles, stakes, slashes, credits and decay snapshots.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Open(ctx, viper.GetString("workspace"), os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
