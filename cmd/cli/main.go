package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	config "github.com/glup3/ghstats/internal"
	"github.com/glup3/ghstats/internal/app"
	database "github.com/glup3/ghstats/internal/db"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		log.Fatal().Msg("Usage: ./ghstats [stats <username> [-exclude-forks]|ratelimit|migrate]")
	}

	configs, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}
	configs.SetupLogging()

	mode := os.Args[1]
	switch mode {
	case "stats":
		runStats(ctx, configs, os.Args[2:])
	case "ratelimit":
		runRateLimit(ctx, configs)
	case "migrate":
		runMigrate(configs, os.Args[2:])
	default:
		log.Fatal().Msgf("Invalid mode: %s. Use 'stats', 'ratelimit' or 'migrate'", mode)
	}
}

func runStats(ctx context.Context, configs *config.Config, args []string) {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	excludeForks := flags.Bool("exclude-forks", false, "skip forked repositories")
	_ = flags.Parse(args)

	if flags.NArg() != 1 {
		log.Fatal().Msg("Usage: ./ghstats stats <username> [-exclude-forks]")
	}

	filter := stats.IncludeForks
	if *excludeForks {
		filter = stats.ExcludeForks
	}

	a, err := app.New(ctx, configs, prometheus.NewRegistry())
	if err != nil {
		log.Fatal().Err(err).Msg("setting up service failed")
	}
	defer a.Close()

	outcome, err := a.Service.Stats(ctx, stats.NewKey(flags.Arg(0), filter))
	if err != nil {
		log.Fatal().Err(err).Str("username", flags.Arg(0)).Msg("loading stats failed")
	}

	log.Info().Str("state", string(outcome.State)).Int("fetched", outcome.PagesFetched).Msg("loaded stats")
	printJSON(outcome.Result)
}

func runRateLimit(ctx context.Context, configs *config.Config) {
	client, err := app.NewGitHubClient(configs)
	if err != nil {
		log.Fatal().Err(err).Msg("setting up github client failed")
	}

	rl, err := client.GetRateLimit(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed fetching rate limits")
	}

	printJSON(rl)
}

func runMigrate(configs *config.Config, args []string) {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := flags.String("dir", "db/migrations", "directory holding the migration files")
	_ = flags.Parse(args)

	if configs.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL must be set to run migrations")
	}

	if err := database.Migrate(configs.DatabaseURL, *dir); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("writing output failed")
	}
}
