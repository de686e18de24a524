package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"redline/api/internal/auth"
	"redline/api/internal/config"
	"redline/api/internal/rbac"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return runServer(ctx, cfg, logger)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return runMCP(ctx, cfg, logger)
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ttl := cfg.TokenTTL
	if d := cmd.Duration("ttl"); d > 0 {
		ttl = d
	}
	role := rbac.Normalize(cmd.String("role"))
	token, expires, err := auth.NewIssuer(cfg.JWTSecret, ttl).Issue(cmd.String("name"), string(role))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, token)
	slog.Info("token issued",
		slog.String("name", cmd.String("name")),
		slog.String("role", string(role)),
		slog.Time("expires_at", expires))
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "redline",
		Usage:   "Track-changes document service with AI suggestions",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the AI reviewer tools as an MCP server on stdio",
				Action: serveMCP,
			},
			{
				Name:   "token",
				Usage:  "Print a signed bearer token",
				Action: issueToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Actor name", Required: true},
					&cli.StringFlag{Name: "role", Usage: "viewer, commenter, suggester, editor or admin", Value: string(rbac.RoleEditor)},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime (defaults to token_ttl)"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
