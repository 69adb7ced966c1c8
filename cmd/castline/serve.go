package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"castline/internal/app"
	"castline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devTokens bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CASTLINE_JWT_SECRET is required for bearer auth")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				if basePath == "" {
					basePath = rt.Config.Server.BasePath
				}
				sink, err := app.OpenReports(ctx, viper.GetString("workspace"), rt.Config.Reports)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, DevTokens: devTokens, Logger: rt.Logger},
					Reports:  sink,
					Metrics:  rt.Registry,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				if devTokens {
					rt.Logger.Warn("dev token endpoint enabled", "path", basePath+"/auth/dev/token")
				}
				rt.Logger.Info("serving castline admin API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devTokens, "dev-tokens", false, "expose POST <base>/auth/dev/token for local testing")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	tc := &cobra.Command{Use: "token", Short: "Bearer tokens for the admin API"}
	var roles, perms []string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CASTLINE_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, actor, roles, perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringSliceVar(&roles, "role", nil, "rbac role (repeatable)")
	mint.Flags().StringSliceVar(&perms, "permission", nil, "direct permission (repeatable)")
	mint.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	tc.AddCommand(mint)
	return tc
}
