package store

import (
	"storepulse.app/analysis/core/db"
)

type Stores struct {
	conn db.DBTX
}

// NewStores binds every store to conn, which may be the pool or a transaction.
func NewStores(conn db.DBTX) *Stores {
	return &Stores{conn: conn}
}

func (s *Stores) Reviews() ReviewStore {
	return newReviewStore(s.conn)
}

func (s *Stores) PipelineConfigs() PipelineConfigStore {
	return newPipelineConfigStore(s.conn)
}

func (s *Stores) Prompts() PromptStore {
	return newPromptStore(s.conn)
}

func (s *Stores) AnalysisResults() AnalysisResultStore {
	return newAnalysisResultStore(s.conn)
}

func (s *Stores) Tickets() TicketStore {
	return newTicketStore(s.conn)
}
