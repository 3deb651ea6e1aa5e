package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vdt/cv-notify/internal/app"
	"github.com/vdt/cv-notify/internal/credential"
	"github.com/vdt/cv-notify/internal/logging"
	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/notify"
	"github.com/vdt/cv-notify/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cvnotify: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.Open(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer closeLog()

	// A broken journal degrades to no retry persistence, not a crash.
	journal, err := notify.OpenJournal(cfg.Notify.JournalPath)
	if err != nil {
		logger.Warn().Err(err).Msg("opening journal failed, mark-read retries disabled")
		journal = nil
	} else {
		defer journal.Close()
	}

	// Token resolution: environment first, then the system keyring.
	// With neither present the app starts in the setup view.
	token := os.Getenv("CVNOTIFY_TOKEN")
	if token == "" {
		if stored, err := credential.Get(credential.TokenKey); err == nil {
			token = stored
		}
	}

	supplier := session.NewSupplier(logger)
	m := app.New(cfg, *configPath, logger, journal, supplier, token)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}
