package model

import (
	"encoding/json"
	"time"
)

type StepType struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// StepConfig enables a step type at a position in the pipeline.
// Order values need not be unique; ties break on the step label.
type StepConfig struct {
	ID        int64           `json:"id"`
	StepKey   string          `json:"step_key"`
	StepLabel string          `json:"step_label"`
	Enabled   bool            `json:"enabled"`
	Order     int             `json:"order"`
	Params    json.RawMessage `json:"params"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type PromptTemplate struct {
	ID        int64     `json:"id"`
	PromptID  string    `json:"prompt_id"`
	Version   string    `json:"version"`
	Text      string    `json:"text"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
