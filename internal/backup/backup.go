// Package backup takes periodic snapshots of the tasks file on a cron
// schedule and serves the newest one back for corruption recovery.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

const snapshotPrefix = "tasks-"

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the backup manager.
type Config struct {
	// SourcePath is the tasks file to snapshot.
	SourcePath string
	// Dir is the snapshot directory.
	Dir string
	// CronExpr is a standard 5-field cron expression.
	CronExpr string
	// Keep is the number of snapshots retained. Zero keeps 10.
	Keep   int
	Logger *slog.Logger
	// Interval is the tick granularity; defaults to 30 seconds.
	Interval time.Duration
}

// Manager runs the snapshot loop and answers Latest queries.
type Manager struct {
	source   string
	dir      string
	schedule cronlib.Schedule
	keep     int
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager validates the cron expression and prepares the snapshot directory.
func NewManager(cfg Config) (*Manager, error) {
	schedule, err := cronParser.Parse(cfg.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse backup cron expression %q: %w", cfg.CronExpr, err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 10
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:   cfg.SourcePath,
		dir:      cfg.Dir,
		schedule: schedule,
		keep:     keep,
		logger:   logger,
		interval: interval,
	}, nil
}

// Start begins the snapshot loop in a background goroutine.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("backup scheduler started", "dir", m.dir, "keep", m.keep)
}

// Stop cancels the loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("backup scheduler stopped")
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	next := m.schedule.Next(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			if name, err := m.Snapshot(); err != nil {
				m.logger.Error("backup snapshot failed", "error", err)
			} else if name != "" {
				m.logger.Info("backup snapshot written", "snapshot", name)
			}
			next = m.schedule.Next(now)
		}
	}
}

// Snapshot copies the current tasks file into the snapshot directory and
// prunes snapshots beyond the retention count. A missing source file is
// not an error; it returns an empty name.
func (m *Manager) Snapshot() (string, error) {
	data, err := os.ReadFile(m.source)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read tasks file: %w", err)
	}

	name := fmt.Sprintf("%s%s.json", snapshotPrefix, time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := m.prune(); err != nil {
		m.logger.Warn("backup prune failed", "error", err)
	}
	return name, nil
}

// Latest returns the content of the newest snapshot, or a wrapped
// os.ErrNotExist when none exists.
func (m *Manager) Latest() ([]byte, error) {
	names, err := m.snapshotNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no snapshots in %s: %w", m.dir, os.ErrNotExist)
	}
	return os.ReadFile(filepath.Join(m.dir, names[len(names)-1]))
}

func (m *Manager) prune() error {
	names, err := m.snapshotNames()
	if err != nil {
		return err
	}
	for len(names) > m.keep {
		if err := os.Remove(filepath.Join(m.dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

// snapshotNames lists snapshot file names sorted oldest first. The
// timestamped naming makes lexicographic order chronological.
func (m *Manager) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
