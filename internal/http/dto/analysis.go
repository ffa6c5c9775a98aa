package dto

type ReanalyzeRequest struct {
	ReviewIDs []int64 `json:"review_ids" binding:"required,min=1,max=100,dive,gt=0"`
}

type AnalyzeAppQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type ReviewCreatedRequest struct {
	ReviewID int64 `json:"review_id" binding:"required,gt=0"`
}

type EnqueueResponse struct {
	ReviewID int64 `json:"review_id"`
	Enqueued bool  `json:"enqueued"`
}

type ReviewCreatedResponse struct {
	ReviewID   int64 `json:"review_id"`
	Enqueued   bool  `json:"enqueued"`
	Duplicated bool  `json:"duplicated"`
}
