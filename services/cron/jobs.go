package cron

import (
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
)

const jobLogRetention = 90 * 24 * time.Hour

// ReapIdleSessions closes sessions whose device has been quiet past the idle timeout,
// releasing their live subscriptions and in-flight downloads
func (m *CronManager) ReapIdleSessions() {
	jobName := "reap_idle_sessions"
	entry := m.logJobStart(jobName)

	closed := m.sessions.Reap(m.now())
	m.logJobComplete(entry, jobName, fmt.Sprintf("closed %d idle sessions", closed))
}

// CleanupPartialDownloads removes partial chapter files left behind by crashes or restarts
func (m *CronManager) CleanupPartialDownloads() {
	jobName := "cleanup_partial_downloads"
	entry := m.logJobStart(jobName)

	root := m.sessions.DownloadRoot()
	if root == "" {
		m.logJobComplete(entry, jobName, "no download directory configured")
		return
	}

	removed, err := services.CleanupPartialDownloads(root, m.PartialAge, m.now())
	if err != nil {
		m.logJobError(entry, jobName, err)
		return
	}
	m.logJobComplete(entry, jobName, fmt.Sprintf("removed %d partial downloads", removed))
}

// CleanupOldJobLogs keeps only the last 90 days of job logs
func (m *CronManager) CleanupOldJobLogs() {
	if m.db == nil {
		return
	}
	jobName := "cleanup_old_job_logs"
	entry := m.logJobStart(jobName)

	cutoff := m.now().Add(-jobLogRetention)
	result := m.db.Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	if result.Error != nil {
		m.logJobError(entry, jobName, result.Error)
		return
	}
	log.Printf("[CRON] Cleaned %d old cron logs", result.RowsAffected)
	m.logJobComplete(entry, jobName, fmt.Sprintf("deleted %d job logs", result.RowsAffected))
}
