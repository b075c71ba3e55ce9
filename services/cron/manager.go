package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/school-connect/model"
	"gorm.io/gorm"
)

// Sessions is the part of the session registry the jobs maintain
type Sessions interface {
	Reap(now time.Time) int
	DownloadRoot() string
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron     *cron.Cron
	db       *gorm.DB
	sessions Sessions
	now      func() time.Time

	// PartialAge is how long a partial download may sit untouched before it is removed
	PartialAge time.Duration
}

// NewCronManager creates a new cron manager. db may be nil, in which case runs are only logged.
func NewCronManager(db *gorm.DB, sessions Sessions) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:       c,
		db:         db,
		sessions:   sessions,
		now:        time.Now,
		PartialAge: time.Hour,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every minute: close idle sessions
	if _, err := m.cron.AddFunc("0 * * * * *", m.ReapIdleSessions); err != nil {
		return err
	}

	// 2. Every 30 minutes: remove abandoned partial downloads
	if _, err := m.cron.AddFunc("0 */30 * * * *", m.CleanupPartialDownloads); err != nil {
		return err
	}

	// 3. Daily at 2 AM: trim old job logs
	if _, err := m.cron.AddFunc("0 0 2 * * *", m.CleanupOldJobLogs); err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job and returns its log row, nil without a database
func (m *CronManager) logJobStart(jobName string) *model.CronJobLog {
	log.Printf("[CRON] Starting job: %s at %s", jobName, m.now().Format(time.RFC3339))
	if m.db == nil {
		return nil
	}

	entry := &model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: m.now(),
	}
	if err := m.db.Create(entry).Error; err != nil {
		log.Printf("[CRON] Failed to record job start for %s: %v", jobName, err)
		return nil
	}
	return entry
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(entry *model.CronJobLog, jobName, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)
	m.finishEntry(entry, map[string]interface{}{
		"status":  "completed",
		"message": message,
	})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(entry *model.CronJobLog, jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)
	m.finishEntry(entry, map[string]interface{}{
		"status":    "failed",
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finishEntry(entry *model.CronJobLog, fields map[string]interface{}) {
	if m.db == nil || entry == nil {
		return
	}
	completed := m.now()
	fields["completed_at"] = completed
	fields["duration"] = int(completed.Sub(entry.StartedAt).Milliseconds())

	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", entry.ID).Updates(fields).Error; err != nil {
		log.Printf("[CRON] Failed to record job result for %s: %v", entry.JobName, err)
	}
}
