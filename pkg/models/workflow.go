package models

import "time"

// Workflow groups every published version of an approval process.
type Workflow struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"                            validate:"required,min=3"`
	Description         string    `json:"description"`
	Owner               string    `json:"owner"`
	CurrentVersion      int       `json:"current_version"`
	CurrentDefinitionID string    `json:"current_definition_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasPublishedVersion reports whether at least one definition was published.
func (w *Workflow) HasPublishedVersion() bool {
	return w.CurrentVersion > 0 && w.CurrentDefinitionID != ""
}
