package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandeepkv93/tasksync/internal/app"
	"github.com/sandeepkv93/tasksync/internal/config"
	"github.com/sandeepkv93/tasksync/internal/console"
	"github.com/sandeepkv93/tasksync/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tasksync failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	log, flush, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	defer a.Stop()

	program := tea.NewProgram(console.NewModel(ctx, a.Handle, a.Notices()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
