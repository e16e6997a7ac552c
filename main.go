package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/config"
	"github.com/dickeyy/pr-flow-metrics/db"
	"github.com/dickeyy/pr-flow-metrics/kpi"
	"github.com/dickeyy/pr-flow-metrics/report"
	"github.com/dickeyy/pr-flow-metrics/scraper"
	"github.com/dickeyy/pr-flow-metrics/services"
	"github.com/dickeyy/pr-flow-metrics/types"
)

const (
	exitOK             = 0
	exitUnexpected     = 1
	exitConfiguration  = 2
	exitAuthentication = 3
	exitAPI            = 4
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return fail(stderr, err)
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Debug().Stringer("config", cfg).Msg("loaded configuration")

	engine := scraper.New(newSource(ctx, cfg), scraper.Options{
		Concurrency:   cfg.Concurrency,
		ThreadWorkers: cfg.ThreadWorkers,
		KPI:           kpi.Options{IgnoreBots: cfg.IgnoreBots},
	})
	res, err := engine.Run(ctx, scraper.Request{
		Selection: scraper.Selection{
			Names:         cfg.RepoNames,
			IDs:           cfg.RepoIDs,
			IncludeHidden: cfg.IncludeHidden,
		},
		LookbackDays: cfg.LookbackDays(),
	})
	if err != nil {
		return fail(stderr, err)
	}

	meta := report.Meta{Provider: cfg.Provider, Organization: cfg.Organization, Project: cfg.Project}
	if err := report.Write(stdout, cfg.Format, meta, res); err != nil {
		return fail(stderr, err)
	}

	if cfg.DatabaseURL != "" {
		if err := persist(ctx, cfg, res); err != nil {
			log.Error().Err(err).Msg("failed to persist run")
			return exitUnexpected
		}
	}
	return exitOK
}

func newSource(ctx context.Context, cfg config.Config) scraper.Source {
	policy := services.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxRetries

	switch cfg.Provider {
	case config.ProviderGitHub:
		hc := services.NewBearerClient(ctx, cfg.Token, cfg.Timeout)
		return services.NewGitHubClient(cfg.Organization, hc, services.WithGitHubRetryPolicy(policy))
	default:
		var hc *http.Client
		if cfg.PAT != "" {
			hc = services.NewPATClient(cfg.PAT, cfg.Timeout)
		} else {
			hc = services.NewBearerClient(ctx, cfg.Token, cfg.Timeout)
		}
		return services.NewAdoClient(cfg.Organization, cfg.Project, hc, services.WithAdoRetryPolicy(policy))
	}
}

func persist(ctx context.Context, cfg config.Config, res *scraper.Result) error {
	if err := db.Init(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	defer db.Close()

	_, err := db.SaveRun(ctx, db.RunMeta{
		Provider:     cfg.Provider,
		Organization: cfg.Organization,
		Project:      cfg.Project,
	}, res)
	return err
}

// fail reports err on stderr under its category and returns the exit code.
func fail(stderr io.Writer, err error) int {
	kind := types.KindOf(err)
	log.Error().Str("kind", string(kind)).Err(err).Msg("run failed")

	label := map[types.ErrorKind]string{
		types.KindConfiguration:  "Configuration error",
		types.KindAuthentication: "Authentication error",
		types.KindAPI:            "API error",
	}[kind]
	if label == "" {
		label = "Unexpected error"
	}
	fmt.Fprintf(stderr, "%s: %v\n", label, err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.KindConfiguration:
		return exitConfiguration
	case types.KindAuthentication:
		return exitAuthentication
	case types.KindAPI:
		return exitAPI
	}
	return exitUnexpected
}
