package media

import (
	"context"
	"errors"
	"time"

	"mediasearch/backend/internal/searchindex"
)

var (
	ErrMediaNotFound   = errors.New("media not found")
	ErrSegmentNotFound = errors.New("segment not found")
)

type Media struct {
	ID            int64     `json:"id"`
	TitleEnglish  string    `json:"titleEnglish"`
	TitleRomaji   string    `json:"titleRomaji"`
	TitleJapanese string    `json:"titleJapanese"`
	Category      string    `json:"category"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Title returns the first non-empty title, English preferred.
func (m *Media) Title() string {
	switch {
	case m.TitleEnglish != "":
		return m.TitleEnglish
	case m.TitleRomaji != "":
		return m.TitleRomaji
	default:
		return m.TitleJapanese
	}
}

// Segment is one timed line of a media episode and the unit the search index holds.
type Segment struct {
	ID             int64     `json:"id"`
	UUID           string    `json:"uuid"`
	MediaID        int64     `json:"mediaId"`
	Episode        int       `json:"episode"`
	Position       int       `json:"position"`
	StartTimeMs    int64     `json:"startTimeMs"`
	EndTimeMs      int64     `json:"endTimeMs"`
	Content        string    `json:"content"`
	ContentEnglish string    `json:"contentEnglish"`
	CharCount      int       `json:"charCount"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot copies the fields the index document is built from. m may be nil.
func (s *Segment) Snapshot(m *Media) searchindex.SegmentSnapshot {
	snap := searchindex.SegmentSnapshot{
		UUID:           s.UUID,
		MediaID:        s.MediaID,
		Episode:        s.Episode,
		Position:       s.Position,
		StartTimeMs:    s.StartTimeMs,
		EndTimeMs:      s.EndTimeMs,
		Content:        s.Content,
		ContentEnglish: s.ContentEnglish,
		CharCount:      s.CharCount,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
	if m != nil {
		snap.Category = m.Category
		snap.MediaTitle = m.Title()
	}
	return snap
}

type ChangeOp string

const (
	ChangeInsert      ChangeOp = "insert"
	ChangeUpdate      ChangeOp = "update"
	ChangeDelete      ChangeOp = "delete"
	ChangeMediaDelete ChangeOp = "media_delete"
)

// Change describes one committed mutation. Segment is set for segment
// changes; Removed lists the segments cascaded by a media delete, each
// carrying its tombstone version.
type Change struct {
	Op      ChangeOp
	Segment *Segment
	Media   *Media
	Removed []Segment
}

// Hook observes segment mutations. BeforeInsert may fill derived fields;
// AfterCommit runs once the transaction committed and must not block.
type Hook interface {
	BeforeInsert(seg *Segment)
	AfterCommit(ctx context.Context, change Change)
}

type Repository interface {
	CreateMedia(ctx context.Context, m *Media) error
	GetMedia(ctx context.Context, id int64) (*Media, error)
	DeleteMedia(ctx context.Context, id int64) error
	ListMediaIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	InsertSegment(ctx context.Context, seg *Segment) error
	UpdateSegment(ctx context.Context, seg *Segment) error
	DeleteSegment(ctx context.Context, uuid string) error
	ListSegments(ctx context.Context, mediaID int64, episodes []int) ([]Segment, error)
	CountMedia(ctx context.Context) (int, error)
	CountSegments(ctx context.Context) (int, error)
}
