// Package scheduler runs periodic exports and prunes old archives.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/export"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

// ExportInterval defines the scheduling frequency.
type ExportInterval string

const (
	IntervalManual  ExportInterval = "manual"
	IntervalDaily   ExportInterval = "daily"
	IntervalWeekly  ExportInterval = "weekly"
	IntervalMonthly ExportInterval = "monthly"
)

const (
	archivePrefix = "threemeal_"
	stampLayout   = "20060102_150405.000000"
)

// Config holds the scheduler configuration.
type Config struct {
	Interval       ExportInterval
	RetentionCount int    // archives to keep, 0 = unlimited
	IncludeImages  bool   // bundle referenced images
	ExportDir      string // default "exports"
	Password       string // empty = not encrypted
}

// Scheduler runs exports on a fixed interval.
type Scheduler struct {
	exporter export.Exporter
	config   Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Nothing runs until Start.
func NewScheduler(exporter export.Exporter, config Config) *Scheduler {
	if config.ExportDir == "" {
		config.ExportDir = "exports"
	}
	if config.RetentionCount < 0 {
		config.RetentionCount = 0
	}
	if config.Interval == "" {
		config.Interval = IntervalManual
	}
	return &Scheduler{exporter: exporter, config: config}
}

// Start runs an export immediately and then once per interval, until Stop
// is called or ctx ends. In manual mode Start does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Interval == IntervalManual {
		logging.Info("scheduler in manual mode, automatic exports disabled")
		return nil
	}
	dur, err := IntervalDuration(s.config.Interval)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh

	logging.Info("scheduler started", map[string]interface{}{
		"interval":        string(s.config.Interval),
		"retention_count": s.config.RetentionCount,
		"include_images":  s.config.IncludeImages,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(dur)
		defer ticker.Stop()

		s.tick(ctx, "initial export failed")
		for {
			select {
			case <-ticker.C:
				s.tick(ctx, "scheduled export failed")
			case <-stop:
				logging.Info("scheduler stopped")
				return
			case <-ctx.Done():
				logging.Info("scheduler context cancelled")
				return
			}
		}
	}()
	return nil
}

func (s *Scheduler) tick(ctx context.Context, msg string) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logging.Error(msg, err)
	}
}

// Stop halts the scheduler and waits for a running export to finish.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether the ticker loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce performs one export into ExportDir and applies retention.
// A retention failure is logged, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*export.ExportResult, error) {
	name := archivePrefix + time.Now().UTC().Format(stampLayout) + ".tar.gz"
	result, err := s.exporter.Export(ctx, export.ExportConfig{
		OutputPath:    filepath.Join(s.config.ExportDir, name),
		Password:      s.config.Password,
		IncludeImages: s.config.IncludeImages,
	})
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	if s.config.RetentionCount > 0 {
		if err := s.applyRetentionPolicy(); err != nil {
			logging.Error("retention policy failed", err, map[string]interface{}{"dir": s.config.ExportDir})
		}
	}
	return result, nil
}

// IntervalDuration converts an interval to a duration.
func IntervalDuration(i ExportInterval) (time.Duration, error) {
	switch i {
	case IntervalDaily:
		return 24 * time.Hour, nil
	case IntervalWeekly:
		return 7 * 24 * time.Hour, nil
	case IntervalMonthly:
		return 30 * 24 * time.Hour, nil
	case IntervalManual:
		return 0, fmt.Errorf("manual interval has no duration")
	default:
		return 0, fmt.Errorf("unknown interval: %q", i)
	}
}

// applyRetentionPolicy keeps the newest RetentionCount archives.
func (s *Scheduler) applyRetentionPolicy() error {
	archives, err := ListArchives(s.config.ExportDir)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}
	if len(archives) <= s.config.RetentionCount {
		return nil
	}
	for _, a := range archives[:len(archives)-s.config.RetentionCount] {
		if err := os.Remove(a.Path); err != nil {
			logging.Error("failed to delete old archive", err, map[string]interface{}{"path": a.Path})
			continue
		}
		logging.Info("deleted old archive", map[string]interface{}{"path": a.Path})
	}
	return nil
}

// ArchiveInfo describes an archive written by the scheduler.
type ArchiveInfo struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// ListArchives returns scheduler archives in dir, oldest first. A missing
// directory yields an empty list.
func ListArchives(dir string) ([]*ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var archives []*ArchiveInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, &ArchiveInfo{
			Path:      filepath.Join(dir, name),
			SizeBytes: fi.Size(),
			ModTime:   fi.ModTime(),
		})
	}
	// Names embed a fixed-width UTC timestamp.
	sort.Slice(archives, func(i, j int) bool { return archives[i].Path < archives[j].Path })
	return archives, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}
