package history

import (
	"encoding/json"
	"time"
)

// Run records one successful image generation. Immutable once created;
// destroyed only by eviction or explicit deletion.
type Run struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	PrimaryImageURL string    `json:"primary_image_url"`
}

// Message is a finished conversation message. While streaming, its content
// grows through ingestor snapshots; it is only persisted once final.
type Message struct {
	ID              string            `json:"id"`
	Role            string            `json:"role"`
	FilteredContent string            `json:"filtered_content"`
	RawContent      string            `json:"raw_content,omitempty"`
	ResponseTrace   []json.RawMessage `json:"response_trace,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}
