package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"osmlevels/internal/app"
	"osmlevels/internal/config"
	"osmlevels/internal/service/hierarchy"
	"osmlevels/internal/tui"
)

// chanNotifier hands user-visible errors to the browser without blocking
type chanNotifier chan string

func (c chanNotifier) ReportError(ctx context.Context, message string) {
	select {
	case c <- message:
	default:
	}
}

func main() {
	treeID := flag.String("tree", "", "Tree to browse")
	flag.Parse()
	if *treeID == "" {
		fmt.Fprintln(os.Stderr, "usage: levelbrowser -tree <tree-id>")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs only go to a file
	var logOut io.Writer = io.Discard
	if cfg.LogDir != "" {
		f, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open backend: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	reports := make(chanNotifier, 16)
	services, err := app.SetupServices(cfg, backend, logger, reports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup services: %v\n", err)
		os.Exit(1)
	}

	view := hierarchy.NewTreeView(*treeID, services.Loader, logger, cfg.EagerLoadDepth)
	defer view.Close()

	m := tui.New(ctx, tui.Options{
		View:     view,
		Resolver: services.Resolver,
		Reports:  reports,
		PageSize: cfg.DefaultPageSize,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running level browser: %v\n", err)
		os.Exit(1)
	}
}
