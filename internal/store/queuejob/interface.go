package queuejob

import (
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/model"
)

type IStore interface {
	Create(tx *gorm.DB, job *model.QueueJob) (*model.QueueJob, error)
	GetByIdempotencyKey(tx *gorm.DB, key string) (*model.QueueJob, error)
	MarkActive(tx *gorm.DB, key string) error
	MarkDone(tx *gorm.DB, key string) error
	MarkFailed(tx *gorm.DB, key, lastError string) error
	DeleteByIdempotencyKey(tx *gorm.DB, key string) error
}
