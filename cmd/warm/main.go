package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	config "github.com/glup3/ghstats/internal"
	"github.com/glup3/ghstats/internal/app"
	"github.com/glup3/ghstats/internal/jobs"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func main() {
	file := flag.String("file", "", "file with one username per line")
	excludeForks := flag.Bool("exclude-forks", false, "warm the fork-free aggregates")
	concurrency := flag.Int("concurrency", 3, "usernames refreshed at the same time")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configs, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}
	configs.SetupLogging()

	usernames := flag.Args()
	if *file != "" {
		fromFile, err := readUsernames(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("reading usernames failed")
		}
		usernames = append(usernames, fromFile...)
	}
	if len(usernames) == 0 {
		log.Fatal().Msg("Usage: ./warm [-file usernames.txt] [-exclude-forks] [username...]")
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

	rl, err := a.GitHub.GetRateLimit(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed fetching rate limits")
	} else if rl.RemainingRest == 0 {
		log.Warn().Time("resetAt", rl.ResetRest).Msg("REST rate limit is exhausted, most refreshes will fail")
	}

	summary := jobs.NewWarmJob(a.Service, *concurrency).Run(ctx, jobs.KeysFor(usernames, filter))
	if summary.Failed > 0 {
		a.Close()
		stop()
		os.Exit(1)
	}
}

func readUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var usernames []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		usernames = append(usernames, line)
	}

	return usernames, scanner.Err()
}
