package searchindex

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"mediasearch/backend/internal/syncjob"
)

var ErrInvalidDocument = errors.New("invalid index document")

// SegmentSnapshot is the field snapshot carried by create/update jobs. It holds
// everything needed to build the index document without re-reading the record.
type SegmentSnapshot struct {
	UUID           string    `json:"uuid"`
	MediaID        int64     `json:"mediaId"`
	Episode        int       `json:"episode"`
	Position       int       `json:"position"`
	StartTimeMs    int64     `json:"startTimeMs"`
	EndTimeMs      int64     `json:"endTimeMs"`
	Content        string    `json:"content"`
	ContentEnglish string    `json:"contentEnglish,omitempty"`
	CharCount      int       `json:"charCount"`
	Category       string    `json:"category,omitempty"`
	MediaTitle     string    `json:"mediaTitle,omitempty"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DeletePayload identifies a single document to remove.
type DeletePayload struct {
	DocumentID string `json:"documentId"`
	Version    int64  `json:"version"`
}

// MediaDeletePayload sweeps every document of a media. Documents lists the
// segments known at delete time so their watermarks can be tombstoned.
type MediaDeletePayload struct {
	MediaID   int64           `json:"mediaId"`
	Documents []DeletePayload `json:"documents,omitempty"`
}

type Document struct {
	ID         string
	Properties map[string]any
	Vector     []float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Builder turns snapshots into index documents. Workers and reindex share it
// so both paths produce identical documents.
type Builder struct {
	embedder Embedder
}

// NewBuilder returns a Builder. A nil embedder produces documents without vectors.
func NewBuilder(embedder Embedder) *Builder {
	return &Builder{embedder: embedder}
}

func (b *Builder) Build(ctx context.Context, s SegmentSnapshot) (*Document, error) {
	if err := validate(s); err != nil {
		return nil, syncjob.Permanent(err)
	}

	charCount := s.CharCount
	if charCount == 0 {
		charCount = utf8.RuneCountInString(s.Content)
	}

	props := map[string]any{
		"mediaId":     s.MediaID,
		"episode":     s.Episode,
		"position":    s.Position,
		"startTimeMs": s.StartTimeMs,
		"endTimeMs":   s.EndTimeMs,
		"content":     s.Content,
		"charCount":   charCount,
		"version":     s.Version,
	}
	if s.ContentEnglish != "" {
		props["contentEnglish"] = s.ContentEnglish
	}
	if s.Category != "" {
		props["category"] = s.Category
	}
	if s.MediaTitle != "" {
		props["mediaTitle"] = s.MediaTitle
	}
	if !s.UpdatedAt.IsZero() {
		props["updatedAt"] = s.UpdatedAt.UTC().Format(time.RFC3339)
	}

	doc := &Document{ID: s.UUID, Properties: props}
	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, embeddingText(s))
		if err != nil {
			return nil, fmt.Errorf("embed segment %s: %w", s.UUID, err)
		}
		doc.Vector = vec
	}
	return doc, nil
}

func embeddingText(s SegmentSnapshot) string {
	if s.ContentEnglish == "" {
		return s.Content
	}
	return s.Content + "\n" + s.ContentEnglish
}

func validate(s SegmentSnapshot) error {
	if _, err := uuid.Parse(s.UUID); err != nil {
		return fmt.Errorf("%w: uuid %q: %v", ErrInvalidDocument, s.UUID, err)
	}
	if s.MediaID <= 0 {
		return fmt.Errorf("%w: segment %s has no media", ErrInvalidDocument, s.UUID)
	}
	if s.Content == "" {
		return fmt.Errorf("%w: segment %s has empty content", ErrInvalidDocument, s.UUID)
	}
	if s.EndTimeMs < s.StartTimeMs {
		return fmt.Errorf("%w: segment %s ends before it starts", ErrInvalidDocument, s.UUID)
	}
	return nil
}
