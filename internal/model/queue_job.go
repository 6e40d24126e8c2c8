package model

import "time"

type QueueJobStatus string

const (
	QueueJobStatusQueued QueueJobStatus = "queued"
	QueueJobStatusActive QueueJobStatus = "active"
	QueueJobStatusDone   QueueJobStatus = "done"
	QueueJobStatusFailed QueueJobStatus = "failed"
)

// QueueJob is the persisted admission trail of the in-process job queue.
// The unique idempotency key is what rejects a duplicate enqueue while a
// job with the same key is still queued or active.
type QueueJob struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	JobName        string         `gorm:"column:job_name;type:varchar(100);not null;index" json:"job_name"`
	IdempotencyKey string         `gorm:"column:idempotency_key;type:varchar(255);not null;uniqueIndex" json:"idempotency_key"`
	Payload        []byte         `gorm:"column:payload;type:jsonb" json:"payload"`
	Status         QueueJobStatus `gorm:"column:status;type:varchar(20);not null;default:'queued';index" json:"status"`
	RunAt          time.Time      `gorm:"column:run_at;not null" json:"run_at"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError      string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (QueueJob) TableName() string {
	return "queue_jobs"
}
