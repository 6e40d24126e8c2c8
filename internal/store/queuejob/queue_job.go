package queuejob

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dhblabs/settlement-backend/internal/model"
)

type Store struct {
}

func New() IStore {
	return &Store{}
}

// Create upserts on the idempotency key: a key re-admitted after its previous
// run finished reuses the row instead of tripping the unique index.
func (s *Store) Create(tx *gorm.DB, job *model.QueueJob) (*model.QueueJob, error) {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"job_name", "payload", "status", "run_at", "last_error", "updated_at",
		}),
	}).Create(job).Error
	return job, err
}

func (s *Store) GetByIdempotencyKey(tx *gorm.DB, key string) (*model.QueueJob, error) {
	var job model.QueueJob
	err := tx.Where("idempotency_key = ?", key).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) MarkActive(tx *gorm.DB, key string) error {
	return tx.Model(&model.QueueJob{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]interface{}{
			"status":   model.QueueJobStatusActive,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (s *Store) MarkDone(tx *gorm.DB, key string) error {
	return tx.Model(&model.QueueJob{}).
		Where("idempotency_key = ?", key).
		Update("status", model.QueueJobStatusDone).Error
}

func (s *Store) MarkFailed(tx *gorm.DB, key, lastError string) error {
	return tx.Model(&model.QueueJob{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]interface{}{
			"status":     model.QueueJobStatusFailed,
			"last_error": lastError,
		}).Error
}

func (s *Store) DeleteByIdempotencyKey(tx *gorm.DB, key string) error {
	return tx.Where("idempotency_key = ?", key).Delete(&model.QueueJob{}).Error
}
