package model

import "time"

// Category is the content category of a generated document.
type Category string

const (
	CategoryFrontend Category = "frontend"
	CategoryCSS      Category = "css"
	CategoryBackend  Category = "backend"
	CategoryDBSchema Category = "db_schema"
	CategoryGeneric  Category = "generic"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFrontend, CategoryCSS, CategoryBackend, CategoryDBSchema, CategoryGeneric:
		return true
	default:
		return false
	}
}

// Document is a titled, categorized unit of generated text selected for
// persistence from a completed run.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  Category  `json:"category"`
	Content   string    `json:"content"`
	StepOrder int       `json:"step_order"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
