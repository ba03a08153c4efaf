package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ledger/pkg/keylock"
	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// timestampLayout is fixed width so that file names sort in time order
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// RotationConfig configures the rotation manager
type RotationConfig struct {
	Directory string        // Directory holding the log files
	Prefix    string        // File name prefix
	Extension string        // File extension without the dot
	Rotate    bool          // Enable time based rotation
	Period    time.Duration // Age after which a new file is started

	Clock   func() time.Time      // Defaults to time.Now
	Logger  *logrus.Logger        // Defaults to logrus.New()
	Metrics *observability.Metrics // Optional
}

// DefaultRotationConfig returns default configuration
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		Directory: "/var/log/ledger",
		Prefix:    "audit",
		Extension: "log",
		Rotate:    true,
		Period:    24 * time.Hour,
	}
}

// RotationManager resolves and creates the current log file of a file-backed sink.
// It also serializes access per file path.
type RotationManager struct {
	dir     string
	prefix  string
	ext     string
	rotate  bool
	period  time.Duration
	now     func() time.Time
	log     *logrus.Logger
	metrics *observability.Metrics

	mu    sync.Mutex // held across rotation decision and the write that follows
	files *keylock.Map

	// initial is written to every file this manager creates
	initial []byte
}

// NewRotationManager creates a rotation manager and its directory
func NewRotationManager(config RotationConfig) (*RotationManager, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("log directory is required: %w", sentinel.ErrConfiguration)
	}
	if config.Prefix == "" || config.Extension == "" {
		return nil, fmt.Errorf("log file prefix and extension are required: %w", sentinel.ErrConfiguration)
	}
	if config.Rotate && config.Period <= 0 {
		return nil, fmt.Errorf("rotation period must be positive: %w", sentinel.ErrConfiguration)
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	m := &RotationManager{
		dir:     config.Directory,
		prefix:  config.Prefix,
		ext:     strings.TrimPrefix(config.Extension, "."),
		rotate:  config.Rotate,
		period:  config.Period,
		now:     config.Clock,
		log:     config.Logger,
		metrics: config.Metrics,
		files:   keylock.New(),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logrus.New()
	}

	return m, nil
}

// Directory returns the managed directory
func (m *RotationManager) Directory() string {
	return m.dir
}

// FileName builds the file name for a timestamp
func (m *RotationManager) FileName(ts time.Time) string {
	stamp := strings.ReplaceAll(ts.UTC().Format(timestampLayout), ":", "+")
	return fmt.Sprintf("%s_%s.%s", m.prefix, stamp, m.ext)
}

// ParseTimestamp reverses FileName. A full path is accepted.
func (m *RotationManager) ParseTimestamp(name string) (time.Time, error) {
	base := filepath.Base(name)
	head := m.prefix + "_"
	tail := "." + m.ext

	if !strings.HasPrefix(base, head) || !strings.HasSuffix(base, tail) || len(base) <= len(head)+len(tail) {
		return time.Time{}, fmt.Errorf("log file name %q does not match %s_<timestamp>%s: %w", base, m.prefix, tail, sentinel.ErrParse)
	}

	stamp := strings.ReplaceAll(base[len(head):len(base)-len(tail)], "+", ":")
	ts, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("log file name %q has a malformed timestamp: %w: %w", base, sentinel.ErrParse, err)
	}

	return ts, nil
}

// ListAllFiles returns every file in the directory whose name contains the
// prefix and the extension, sorted by name
func (m *RotationManager) ListAllFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// dot files are in-flight atomic rewrites
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.Contains(name, m.prefix) && strings.Contains(name, "."+m.ext) {
			files = append(files, filepath.Join(m.dir, name))
		}
	}
	sort.Strings(files)

	return files, nil
}

// ActiveFile returns the file new artifacts go to, creating it when needed
func (m *RotationManager) ActiveFile() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveActive()
}

// WithActiveFile resolves the active file and runs fn on it. Rotation decision
// and fn form one critical section.
func (m *RotationManager) WithActiveFile(fn func(path string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.resolveActive()
	if err != nil {
		return err
	}

	unlock := m.files.Lock(path)
	defer unlock()

	return fn(path)
}

// WithFile runs fn while holding the lock for path
func (m *RotationManager) WithFile(path string, fn func(path string) error) error {
	unlock := m.files.Lock(filepath.Clean(path))
	defer unlock()
	return fn(path)
}

// resolveActive must be called with m.mu held
func (m *RotationManager) resolveActive() (string, error) {
	latest, ts, err := m.latest()
	if err != nil {
		return "", err
	}

	now := m.now()
	if latest == "" {
		return m.create(now)
	}
	if m.rotate && now.Sub(ts) > m.period {
		m.log.WithFields(logrus.Fields{
			"previous": filepath.Base(latest),
			"age":      now.Sub(ts).String(),
		}).Info("rotating audit log file")
		return m.create(now)
	}

	return latest, nil
}

// latest returns the greatest file name that carries a valid timestamp
func (m *RotationManager) latest() (string, time.Time, error) {
	files, err := m.ListAllFiles()
	if err != nil {
		return "", time.Time{}, err
	}

	for i := len(files) - 1; i >= 0; i-- {
		ts, err := m.ParseTimestamp(files[i])
		if err != nil {
			m.log.WithError(err).Warn("ignoring log file with unexpected name")
			continue
		}
		return files[i], ts, nil
	}

	return "", time.Time{}, nil
}

// setInitialContent sets what newly created files start with
func (m *RotationManager) setInitialContent(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial = data
}

func (m *RotationManager) create(now time.Time) (string, error) {
	path := filepath.Join(m.dir, m.FileName(now))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}
	if len(m.initial) > 0 {
		if info, err := file.Stat(); err == nil && info.Size() == 0 {
			if _, err := file.Write(m.initial); err != nil {
				file.Close()
				return "", fmt.Errorf("failed to initialize log file: %w", err)
			}
		}
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	m.metrics.RecordRotation()
	return path, nil
}

// Prune removes rotated files older than the retention period, archiving them
// first when the policy asks for it. The active file is never touched.
func (m *RotationManager) Prune(ctx context.Context, policy RetentionPolicy, archiver Archiver) ([]string, error) {
	if policy.RetentionDays <= 0 {
		return nil, nil
	}
	if policy.ArchiveEnabled && archiver == nil {
		return nil, fmt.Errorf("archiving is enabled but no archiver is configured: %w", sentinel.ErrConfiguration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active, _, err := m.latest()
	if err != nil {
		return nil, err
	}
	files, err := m.ListAllFiles()
	if err != nil {
		return nil, err
	}

	cutoff := m.now().AddDate(0, 0, -policy.RetentionDays)
	var removed []string
	for _, path := range files {
		if path == active {
			continue
		}
		ts, err := m.ParseTimestamp(path)
		if err != nil || !ts.Before(cutoff) {
			continue
		}

		err = m.WithFile(path, func(path string) error {
			if policy.ArchiveEnabled {
				if err := archiver.Archive(ctx, path); err != nil {
					return fmt.Errorf("failed to archive %s: %w", filepath.Base(path), err)
				}
				m.metrics.RecordPruned("archived")
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
			}
			m.metrics.RecordPruned("removed")
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}

	return removed, nil
}
