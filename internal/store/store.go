package store

import (
	"github.com/dhblabs/settlement-backend/internal/store/queuejob"
	"github.com/dhblabs/settlement-backend/internal/store/settlementtransaction"
)

type Store struct {
	SettlementTransaction settlementtransaction.IStore
	QueueJob              queuejob.IStore
}

func New() *Store {
	return &Store{
		SettlementTransaction: settlementtransaction.New(),
		QueueJob:              queuejob.New(),
	}
}
