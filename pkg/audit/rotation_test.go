package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

var rotationEpoch = time.Date(2024, 3, 5, 10, 20, 30, 123_000_000, time.UTC)

func TestNewRotationManager_Validation(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name   string
		config RotationConfig
	}{
		{name: "missing directory", config: RotationConfig{Prefix: "audit", Extension: "log"}},
		{name: "missing prefix", config: RotationConfig{Directory: dir, Extension: "log"}},
		{name: "missing extension", config: RotationConfig{Directory: dir, Prefix: "audit"}},
		{name: "non-positive period", config: RotationConfig{Directory: dir, Prefix: "audit", Extension: "log", Rotate: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRotationManager(tc.config)
			assert.True(t, errors.Is(err, sentinel.ErrConfiguration))
		})
	}

	t.Run("creates directory", func(t *testing.T) {
		nested := filepath.Join(dir, "a", "b")
		_, err := NewRotationManager(RotationConfig{Directory: nested, Prefix: "audit", Extension: ".log"})
		require.NoError(t, err)
		assert.DirExists(t, nested)
	})
}

func TestRotationManager_FileName(t *testing.T) {
	m := newTestRotation(t, "log", newFakeClock(rotationEpoch))

	name := m.FileName(rotationEpoch)
	assert.Equal(t, "audit_2024-03-05T10+20+30.123Z.log", name)

	ts, err := m.ParseTimestamp(filepath.Join(m.Directory(), name))
	require.NoError(t, err)
	assert.True(t, ts.Equal(rotationEpoch))

	// non-UTC input is normalized
	local := rotationEpoch.In(time.FixedZone("CET", 3600))
	assert.Equal(t, name, m.FileName(local))
}

func TestRotationManager_ParseTimestampErrors(t *testing.T) {
	m := newTestRotation(t, "log", newFakeClock(rotationEpoch))

	for _, name := range []string{"other.log", "audit_.log", "audit_garbage.log", "audit_2024-03-05T10+20+30.123Z.json"} {
		_, err := m.ParseTimestamp(name)
		assert.True(t, errors.Is(err, sentinel.ErrParse), name)
	}
}

func TestRotationManager_NamesSortInTimeOrder(t *testing.T) {
	m := newTestRotation(t, "log", newFakeClock(rotationEpoch))

	times := []time.Time{
		time.Date(2023, 12, 31, 23, 59, 59, 999_000_000, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 1_000_000, time.UTC),
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	var names []string
	for _, ts := range times {
		names = append(names, m.FileName(ts))
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, names, sorted)
}

func TestRotationManager_ActiveFile(t *testing.T) {
	clock := newFakeClock(rotationEpoch)
	m := newTestRotation(t, "log", clock)

	first, err := m.ActiveFile()
	require.NoError(t, err)
	assert.FileExists(t, first)
	assert.Equal(t, m.FileName(rotationEpoch), filepath.Base(first))

	clock.Advance(23 * time.Hour)
	same, err := m.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, first, same)

	clock.Advance(2 * time.Hour)
	rotated, err := m.ActiveFile()
	require.NoError(t, err)
	assert.NotEqual(t, first, rotated)

	files, err := m.ListAllFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{first, rotated}, files)
}

func TestRotationManager_RotationDisabled(t *testing.T) {
	clock := newFakeClock(rotationEpoch)
	m, err := NewRotationManager(RotationConfig{
		Directory: t.TempDir(),
		Prefix:    "audit",
		Extension: "log",
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	first, err := m.ActiveFile()
	require.NoError(t, err)
	clock.Advance(30 * 24 * time.Hour)
	second, err := m.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRotationManager_IgnoresForeignFiles(t *testing.T) {
	clock := newFakeClock(rotationEpoch)
	m := newTestRotation(t, "log", clock)

	valid := filepath.Join(m.Directory(), m.FileName(rotationEpoch))
	require.NoError(t, os.WriteFile(valid, nil, 0o644))
	// sorts after the valid name but carries no timestamp
	require.NoError(t, os.WriteFile(filepath.Join(m.Directory(), "audit_zzz.log"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Directory(), ".audit_tmp.log"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Directory(), "unrelated.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(m.Directory(), "audit_dir.log"), 0o755))

	files, err := m.ListAllFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)

	active, err := m.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, valid, active)
}

func TestRotationManager_ConcurrentRotationCreatesOneFile(t *testing.T) {
	clock := newFakeClock(rotationEpoch)
	m := newTestRotation(t, "log", clock)

	_, err := m.ActiveFile()
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	var wg sync.WaitGroup
	paths := make([]string, 20)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.WithActiveFile(func(path string) error {
				paths[i] = path
				return nil
			})
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	files, err := m.ListAllFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

type recordingArchiver struct {
	archived []string
	err      error
}

func (a *recordingArchiver) Archive(ctx context.Context, path string) error {
	if a.err != nil {
		return a.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	a.archived = append(a.archived, filepath.Base(path)+":"+string(data))
	return nil
}

func TestRotationManager_Prune(t *testing.T) {
	setup := func(t *testing.T) (*RotationManager, []string) {
		clock := newFakeClock(rotationEpoch)
		m := newTestRotation(t, "log", clock)
		var paths []string
		for _, age := range []int{120, 100, 10} {
			p := filepath.Join(m.Directory(), m.FileName(rotationEpoch.AddDate(0, 0, -age)))
			require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
			paths = append(paths, p)
		}
		return m, paths
	}

	t.Run("removes expired files", func(t *testing.T) {
		m, paths := setup(t)
		removed, err := m.Prune(context.Background(), RetentionPolicy{RetentionDays: 90}, nil)
		require.NoError(t, err)
		assert.Equal(t, paths[:2], removed)
		assert.NoFileExists(t, paths[0])
		assert.FileExists(t, paths[2])
	})

	t.Run("never removes the active file", func(t *testing.T) {
		m, paths := setup(t)
		removed, err := m.Prune(context.Background(), RetentionPolicy{RetentionDays: 1}, nil)
		require.NoError(t, err)
		assert.Len(t, removed, 2)
		assert.FileExists(t, paths[2])
	})

	t.Run("archives before removing", func(t *testing.T) {
		m, paths := setup(t)
		archiver := &recordingArchiver{}
		_, err := m.Prune(context.Background(), RetentionPolicy{RetentionDays: 90, ArchiveEnabled: true}, archiver)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Base(paths[0]) + ":data", filepath.Base(paths[1]) + ":data"}, archiver.archived)
	})

	t.Run("archive failure keeps the file", func(t *testing.T) {
		m, paths := setup(t)
		archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
		removed, err := m.Prune(context.Background(), RetentionPolicy{RetentionDays: 90, ArchiveEnabled: true}, archiver)
		assert.Error(t, err)
		assert.Empty(t, removed)
		assert.FileExists(t, paths[0])
	})

	t.Run("archiving requires an archiver", func(t *testing.T) {
		m, _ := setup(t)
		_, err := m.Prune(context.Background(), RetentionPolicy{RetentionDays: 90, ArchiveEnabled: true}, nil)
		assert.True(t, errors.Is(err, sentinel.ErrConfiguration))
	})

	t.Run("zero retention keeps everything", func(t *testing.T) {
		m, paths := setup(t)
		removed, err := m.Prune(context.Background(), RetentionPolicy{}, nil)
		require.NoError(t, err)
		assert.Empty(t, removed)
		for _, p := range paths {
			assert.FileExists(t, p)
		}
	})
}
