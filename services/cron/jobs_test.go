package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	root    string
	reapAt  []time.Time
	reaping int
}

func (f *fakeSessions) Reap(now time.Time) int {
	f.reapAt = append(f.reapAt, now)
	return f.reaping
}

func (f *fakeSessions) DownloadRoot() string { return f.root }

func TestReapIdleSessions(t *testing.T) {
	sessions := &fakeSessions{reaping: 2}
	m := NewCronManager(nil, sessions)
	now := time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.ReapIdleSessions()
	require.Len(t, sessions.reapAt, 1)
	assert.Equal(t, now, sessions.reapAt[0])
}

func TestCleanupPartialDownloadsJob(t *testing.T) {
	root := t.TempDir()
	part := filepath.Join(root, "phone-1", "ch-1.pdf.part")
	require.NoError(t, os.MkdirAll(filepath.Dir(part), 0o755))
	require.NoError(t, os.WriteFile(part, []byte("%PDF-"), 0o644))

	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(part, old, old))

	m := NewCronManager(nil, &fakeSessions{root: root})
	m.CleanupPartialDownloads()
	assert.NoFileExists(t, part)

	// Missing root is not an error
	NewCronManager(nil, &fakeSessions{}).CleanupPartialDownloads()
}

func TestStartRegistersJobs(t *testing.T) {
	m := NewCronManager(nil, &fakeSessions{})
	require.NoError(t, m.Start())
	assert.Len(t, m.cron.Entries(), 3)
	m.Stop()
}
