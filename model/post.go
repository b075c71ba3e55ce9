package model

import (
	"strings"
	"time"
)

// PostTimeLayout is the ISO-8601 form posts are written with. Fixed width keeps
// string ordering equal to time ordering.
const PostTimeLayout = "2006-01-02T15:04:05.000Z"

// Post is an announcement in the school feed
type Post struct {
	PostID    string  `gorm:"primaryKey;type:varchar(64)" json:"postId"`
	AdminID   string  `gorm:"type:varchar(64);index" json:"adminId"`
	Time      string  `gorm:"type:varchar(40);index" json:"time"`
	Message   string  `gorm:"type:text" json:"message"`
	PostURL   string  `gorm:"type:varchar(1024)" json:"postUrl,omitempty"`
	Likes     BoolSet `gorm:"type:jsonb" json:"likes"`
	LikeCount *int    `json:"likeCount,omitempty"`
	SeenBy    BoolSet `gorm:"type:jsonb" json:"seenBy"`

	// SortKey mirrors Time in epoch millis so ordering survives mixed precision strings
	SortKey int64 `gorm:"index" json:"-"`
}

// SyncSortKey recomputes SortKey from Time. Call before every full save.
func (p *Post) SyncSortKey() {
	p.SortKey = p.Timestamp().UnixMilli()
}

// FormatPostTime renders t in PostTimeLayout
func FormatPostTime(t time.Time) string {
	return t.UTC().Format(PostTimeLayout)
}

// HasValidTime reports whether Time parses as a timestamp
func (p *Post) HasValidTime() bool {
	_, ok := parsePostTime(p.Time)
	return ok
}

// Timestamp returns the parsed time, or the epoch for a missing or invalid value
func (p *Post) Timestamp() time.Time {
	t, ok := parsePostTime(p.Time)
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// DisplayLikeCount prefers the denormalized counter and falls back to counting likes
func (p *Post) DisplayLikeCount() int {
	if p.LikeCount != nil {
		if *p.LikeCount < 0 {
			return 0
		}
		return *p.LikeCount
	}
	return p.Likes.Count()
}

// Clone returns a deep copy
func (p Post) Clone() Post {
	out := p
	out.Likes = p.Likes.Clone()
	out.SeenBy = p.SeenBy.Clone()
	if p.LikeCount != nil {
		n := *p.LikeCount
		out.LikeCount = &n
	}
	return out
}

func parsePostTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
