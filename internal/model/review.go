package model

import "time"

type Platform string

const (
	PlatformAppStore    Platform = "app_store"
	PlatformPlayStore   Platform = "play_store"
	PlatformProductHunt Platform = "product_hunt"
)

// Review is a single store review as handed over by ingestion.
// AppName and Platform are joined from the owning app.
type Review struct {
	ID                int64      `json:"id"`
	AppID             int64      `json:"app_id"`
	AppName           string     `json:"app_name"`
	Platform          Platform   `json:"platform"`
	ExternalReviewID  string     `json:"external_review_id"`
	Rating            int        `json:"rating"`
	Title             string     `json:"title"`
	Content           string     `json:"content"`
	Author            string     `json:"author"`
	Version           string     `json:"version"`
	PlatformUpdatedAt *time.Time `json:"platform_updated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

