package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"uas-mission/internal/calib"
	"uas-mission/internal/config"
	"uas-mission/internal/task"
)

func main() {
	var (
		configPath string
		taskName   string
		maxTicks   uint64
		history    int
	)
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.StringVar(&taskName, "task", "calibrate", "Task to run: calibrate or land")
	flag.Uint64Var(&maxTicks, "ticks", 0, "Stop after N ticks (0 = until complete or interrupted)")
	flag.IntVar(&history, "history", 0, "Print the last N stored calibrations and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if history > 0 {
		if err := printHistory(context.Background(), os.Stdout, cfg.Calibration.HistoryDB, history); err != nil {
			log.Fatalf("history failed: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, taskName, maxTicks); err != nil {
		log.Printf("uas-mission: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, taskName string, maxTicks uint64) error {
	m, err := newMission(cfg, taskName)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Printf("uas-mission starting task=%s rate_hz=%g", m.name, cfg.Loop.RateHz)
	runner := &task.Runner{
		Task:     m.task,
		RateHz:   cfg.Loop.RateHz,
		MaxTicks: maxTicks,
		Before:   m.before,
		After:    m.after,
	}
	n, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("uas-mission stopping task=%s ticks=%s", m.name, humanize.Comma(int64(n)))
	return m.outcome()
}

// outcome maps a finished calibration to an exit error. The landing task
// never finishes on its own.
func (m *mission) outcome() error {
	ct, ok := m.task.(*calib.Task)
	if !ok {
		return nil
	}
	switch ct.State() {
	case calib.StateCompleteOK:
		return ct.Err()
	case calib.StateCompleteFailed:
		return ct.Err()
	default:
		return errors.New("calibration interrupted before completion")
	}
}

func printHistory(ctx context.Context, w io.Writer, dbPath string, limit int) error {
	if dbPath == "" {
		return errors.New("calibration.history_db is not configured")
	}
	hist, err := openHistory(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()
	entries, err := hist.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no stored calibrations")
		return err
	}
	for _, e := range entries {
		_, err := fmt.Fprintf(w, "%s  %-14s  mean=%s std=%s\n",
			e.ID,
			humanize.Time(e.CreatedAt),
			humanize.FtoaWithDigits(e.Mean, 4),
			humanize.FtoaWithDigits(e.Std, 4))
		if err != nil {
			return err
		}
	}
	return nil
}
