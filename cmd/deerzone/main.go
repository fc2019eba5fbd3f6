package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deerzone/deerzone/internal/app"
	"github.com/deerzone/deerzone/internal/chart"
	"github.com/deerzone/deerzone/internal/chartview"
	"github.com/deerzone/deerzone/internal/config"
	"github.com/deerzone/deerzone/internal/initdata"
	"github.com/deerzone/deerzone/internal/logging"
	"github.com/deerzone/deerzone/internal/player"
	"github.com/deerzone/deerzone/internal/ui"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `deerzone - the #deerzone weekly chart in your terminal

Usage: deerzone [options]

Options:
  -config string
        Path to config file (default: ~/.config/deerzone/config.toml)
  -version
        Print version and exit

Diagnostics:
  -doctor
        Check configuration, mpv, and chart API reachability

One-shot commands (print and exit, no TUI):
  -results
        Print the current week's vote tally
  -summary
        Print the admin vote summary (needs the admin token)
  -enrich
        Trigger metadata enrichment for the current week (admin)
  -force
        With -enrich: re-enrich songs that already have metadata

Examples:
  deerzone                       # Browse, pick, vote
  deerzone --doctor              # Check setup
  deerzone --results             # This week's tally
  deerzone --enrich --force      # Refresh all song metadata

`)
	}

	cfgPath := flag.String("config", "", "")
	doctor := flag.Bool("doctor", false, "")
	showVersion := flag.Bool("version", false, "")
	results := flag.Bool("results", false, "")
	summary := flag.Bool("summary", false, "")
	enrich := flag.Bool("enrich", false, "")
	force := flag.Bool("force", false, "")
	flag.Parse()

	if *showVersion {
		fmt.Println("deerzone", version)
		return
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logFile, err := logging.Setup(cfg.Log.Level)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting deerzone", slog.String("config", resolvedPath), slog.String("version", version))

	creds := initdata.FromEnv(cfg.Telegram.InitDataFile)
	client, err := chart.New(chart.Config{
		BaseURL:    cfg.API.BaseURL,
		AdminToken: cfg.AdminToken(),
		Timeout:    cfg.Timeout(),
	}, creds)
	if err != nil {
		log.Fatalf("init chart client: %v", err)
	}

	if *doctor {
		runDoctor(cfg, client, creds, logger)
		return
	}
	if *results {
		runResults(cfg, client)
		return
	}
	if *summary {
		runSummary(cfg, client)
		return
	}
	if *enrich {
		runEnrich(cfg, client, *force)
		return
	}

	ctrl := player.New(player.Options{
		MPVPath:       cfg.Player.MPVPath,
		IPCPath:       cfg.Player.IPC,
		InitialVolume: cfg.Player.InitialVolume,
		Logger:        logger,
	})
	if err := ctrl.Start(context.Background()); err != nil {
		logger.Error("start player", slog.Any("err", err))
		log.Fatalf("start player: %v", err)
	}
	defer ctrl.Shutdown()

	var store *chartview.Store
	if cfg.Selection.Enabled() {
		store, err = chartview.NewStore(cfg.Selection.DBPath)
		if err != nil {
			logger.Warn("selection persistence unavailable", slog.Any("err", err))
		} else {
			defer store.Close()
		}
	}

	noColor := os.Getenv("NO_COLOR") != ""
	theme := ui.GetTheme(cfg.UI.Theme, noColor)

	model := app.New(cfg, client, creds, ctrl, store, theme, logger)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		logger.Error("run tui", slog.Any("err", err))
		log.Fatalf("tui: %v", err)
	}
}

func runDoctor(cfg *config.Config, client *chart.Client, creds initdata.Provider, logger *slog.Logger) {
	fmt.Println("deerzone doctor")
	fmt.Println("Config file: OK")

	mpvPath, err := exec.LookPath(cfg.Player.MPVPath)
	if err != nil {
		fmt.Printf("mpv (%s): NOT FOUND (previews disabled)\n", cfg.Player.MPVPath)
	} else {
		fmt.Printf("mpv: OK (%s)\n", mpvPath)
	}

	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	if err := client.Health(ctx); err != nil {
		fmt.Printf("Chart API (%s): UNREACHABLE - %v\n", cfg.API.BaseURL, err)
	} else {
		fmt.Printf("Chart API: OK (%s)\n", cfg.API.BaseURL)
	}

	if creds.Credential() == "" {
		fmt.Println("Session credential: absent (browsing only, voting disabled)")
	} else {
		fmt.Println("Session credential: present")
	}

	if cfg.AdminToken() == "" {
		fmt.Printf("Admin token (%s): not set (summary/enrich disabled)\n", cfg.Admin.TokenEnv)
	} else {
		fmt.Println("Admin token: present")
	}

	logger.Info("doctor complete")
}

func runResults(cfg *config.Config, client *chart.Client) {
	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	week, err := client.CurrentWeek(ctx)
	if err != nil {
		log.Fatalf("current week: %v", err)
	}
	rows, err := client.Results(ctx, week.ID)
	if err != nil {
		log.Fatalf("results: %v", err)
	}
	songs, err := client.Songs(ctx, week.ID, chart.SongQuery{Filter: "all"})
	if err != nil {
		log.Fatalf("songs: %v", err)
	}
	byID := make(map[int]chart.Song, len(songs))
	for _, s := range songs {
		byID[s.ID] = s
	}

	fmt.Printf("%s (%s)\n", week.Title, week.Status)
	if len(rows) == 0 {
		fmt.Println("No votes yet.")
		return
	}
	for _, row := range rows {
		name := fmt.Sprintf("song %d", row.SongID)
		if s, ok := byID[row.SongID]; ok {
			name = fmt.Sprintf("%s — %s", s.Artist, s.Title)
		}
		fmt.Printf("%4d  %s\n", row.Votes, name)
	}
}

func runSummary(cfg *config.Config, client *chart.Client) {
	if cfg.AdminToken() == "" {
		log.Fatalf("admin token not set (export %s)", cfg.Admin.TokenEnv)
	}
	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	week, err := client.CurrentWeek(ctx)
	if err != nil {
		log.Fatalf("current week: %v", err)
	}
	s, err := client.Summary(ctx, week.ID)
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	fmt.Printf("Vote summary — week %d (%d songs)\n", s.WeekID, s.TotalSongs)
	for _, row := range s.Rows {
		tag := row.Source
		if row.IsNew {
			tag = "new"
		}
		fmt.Printf("%4d  %s — %s  (%s, wk %d)\n", row.Votes, row.Artist, row.Title, tag, row.WeeksInChart)
	}
}

func runEnrich(cfg *config.Config, client *chart.Client, force bool) {
	if cfg.AdminToken() == "" {
		log.Fatalf("admin token not set (export %s)", cfg.Admin.TokenEnv)
	}
	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	report, err := client.Enrich(ctx, force)
	if err != nil {
		log.Fatalf("enrich: %v", err)
	}
	fmt.Printf("Enriched week %d: %d processed, %d updated, %d skipped\n",
		report.WeekID, report.Processed, report.Updated, report.Skipped)
}
