package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"efileflow/internal/app"
	"efileflow/internal/config"
	"efileflow/internal/engine"
	"efileflow/internal/ratelimit"
	"efileflow/internal/repo"
	"efileflow/internal/report"
	"efileflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin, noRateLimit bool
	var corsOrigins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				logger := rt.Engine.Logger
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt-secret"),
					AllowActorHeader: allowActorHeader,
					DevLogin:         devLogin,
					Logger:           logger,
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					return fmt.Errorf("EFILE_JWT_SECRET is required for bearer auth")
				}
				var limiter ratelimit.Limiter
				if !noRateLimit {
					l, closeFn, err := newLimiter(rt.Config.RateLimit, logger)
					if err != nil {
						return err
					}
					defer closeFn()
					limiter = l
				}
				handler, err := server.New(server.Config{
					Engine:      rt.Engine,
					BasePath:    basePath,
					Auth:        authCfg,
					Logger:      logger,
					Limiter:     limiter,
					CORSOrigins: corsOrigins,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, rt.Engine, logger)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Warn("shutdown", zap.Error(err))
					}
				}()
				logger.Info("serving e-file API",
					zap.String("addr", addr), zap.String("base_path", basePath),
					zap.Bool("actor_header", allowActorHeader), zap.Bool("rate_limit", limiter != nil))
				fmt.Printf("Serving e-file API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", displayAddr(addr), basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST <base>/auth/dev/login")
	cmd.Flags().BoolVar(&noRateLimit, "no-rate-limit", false, "disable rate limiting")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "allowed CORS origin (repeatable)")
	return cmd
}

// newLimiter builds a shared Redis limiter when redis_addr is configured and
// an in-process one otherwise.
func newLimiter(cfg config.RateLimit, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Requests <= 0 {
		return nil, func() {}, nil
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		l, err := ratelimit.NewRedisLimiter(addr, cfg.RedisPassword, cfg.RedisPrefix, cfg.Requests, cfg.Window(), logger.Named("ratelimit"))
		if err != nil {
			return nil, nil, err
		}
		return l, func() { l.Close() }, nil
	}
	l, err := ratelimit.NewMemoryLimiter(cfg.Requests, cfg.Window(), 10000)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {}, nil
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Reports"}
	var out string
	var started bool
	tat := &cobra.Command{
		Use:   "tat",
		Short: "Turnaround-time register",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.TATRegister(ctx, started)
				if err != nil {
					return err
				}
				rows := report.Build(entries, time.Now())
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					if err := report.WriteExcel(f, rows); err != nil {
						f.Close()
						return err
					}
					if err := f.Close(); err != nil {
						return err
					}
					fmt.Println("wrote", out)
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("Number", "Subject", "Creator", "With", "State", "TAT Started", "Days")
				for _, r := range rows {
					startedAt := "-"
					if r.TATStartedAt != nil {
						startedAt = *r.TATStartedAt
					}
					days := "-"
					if r.ElapsedDays >= 0 {
						days = fmt.Sprint(r.ElapsedDays)
					}
					tw.AppendRow(table.Row{r.FileNumber, r.Subject, r.CreatorID, r.CurrentAssignedTo, r.CurrentState, startedAt, days})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	tat.Flags().StringVarP(&out, "out", "o", "", "write an .xlsx file instead of printing")
	tat.Flags().BoolVar(&started, "started", false, "only files whose TAT clock has started")
	rep.AddCommand(tat)
	return rep
}

func logTailCmd() *cobra.Command {
	var n int
	var fileID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					FileID:     fileID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "At", "Type", "File", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.FileID, evt.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&fileID, "file", "", "file id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
