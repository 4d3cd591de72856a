// Package models defines core data structures for memory records, queries, and search results.
package models

import (
	"fmt"
	"math"
	"time"
)

// Platform identifies where a record originated.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWeb      Platform = "web"
	PlatformScreen   Platform = "screen"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformWeb, PlatformScreen:
		return true
	}
	return false
}

// ParsePlatform converts s to a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidRecord, s)
	}
	return p, nil
}

// MetadataQueryPlatform is the metadata key holding the platform a record was
// captured in reply to. Records whose own platform equals this hint get an
// affinity boost.
const MetadataQueryPlatform = "queryPlatform"

// DefaultImportance is assigned when a record is stored without one.
const DefaultImportance = 0.5

// EmotionalContext is the mood attached to a record when it was captured.
type EmotionalContext struct {
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity"`
}

// Record is a stored unit of memory content.
type Record struct {
	ID             string                 `json:"id"`
	OwnerID        string                 `json:"owner_id"`
	Platform       Platform               `json:"platform"`
	Content        string                 `json:"content"`
	Embedding      []float32              `json:"-"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Importance     float64                `json:"importance"`
	Emotion        *EmotionalContext      `json:"emotional_context,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	References     []string               `json:"referenced_memories,omitempty"`
}

// Slot returns the dimension slot of the record's embedding.
// ok is false when the record has no embedding or an unsupported length.
func (r *Record) Slot() (Slot, bool) {
	if len(r.Embedding) == 0 {
		return 0, false
	}
	return SlotForDimension(len(r.Embedding))
}

// QueryPlatform returns the platform hint stored in metadata, if any.
func (r *Record) QueryPlatform() (Platform, bool) {
	if r.Metadata == nil {
		return "", false
	}
	switch v := r.Metadata[MetadataQueryPlatform].(type) {
	case string:
		return Platform(v), true
	case Platform:
		return v, true
	}
	return "", false
}

// ClampImportance limits v to [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecordInput is the input for storing a new record.
type RecordInput struct {
	OwnerID        string                 `json:"owner_id"`
	Platform       Platform               `json:"platform"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Importance     *float64               `json:"importance,omitempty"`
	Emotion        *EmotionalContext      `json:"emotional_context,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	References     []string               `json:"referenced_memories,omitempty"`
}

// Validate checks the required fields of a record input.
func (in *RecordInput) Validate() error {
	if in.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidRecord)
	}
	if in.Content == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrInvalidRecord)
	}
	if !in.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidRecord, in.Platform)
	}
	if in.Importance != nil && math.IsNaN(*in.Importance) {
		return fmt.Errorf("%w: importance is not a number", ErrInvalidRecord)
	}
	return nil
}
