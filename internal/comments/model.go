// Package comments holds the threaded comment forest and the store that
// persists it as a single serialized blob under one storage key.
package comments

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
)

// DateLayout renders CreatedAt the way the reading site always displayed it.
const DateLayout = "January 2, 2006 at 03:04 PM"

var (
	// ErrValidation is returned when author or body is blank after trimming.
	ErrValidation = errors.New("comment author and body are required")
	// ErrNotFound is returned when a reply targets a comment that does not exist.
	ErrNotFound = errors.New("comment not found")
)

// Comment is one node of the forest.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt string    `json:"createdAt"`
	Replies   []Comment `json:"replies"`
}

// Forest is the ordered list of root comments, newest first.
// Replies below any comment are kept oldest first.
type Forest []Comment

// UnmarshalJSON accepts both the current field names and the name/text/date
// fields written by the flat, reply-less widget.
func (c *Comment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        json.Number `json:"id"`
		Author    *string     `json:"author"`
		Name      *string     `json:"name"`
		Body      *string     `json:"body"`
		Text      *string     `json:"text"`
		CreatedAt *string     `json:"createdAt"`
		Date      *string     `json:"date"`
		Replies   []Comment   `json:"replies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := parseID(raw.ID)
	if err != nil {
		return err
	}
	*c = Comment{
		ID:        id,
		Author:    firstOf(raw.Author, raw.Name),
		Body:      firstOf(raw.Body, raw.Text),
		CreatedAt: firstOf(raw.CreatedAt, raw.Date),
		Replies:   raw.Replies,
	}
	if c.Replies == nil {
		c.Replies = []Comment{}
	}
	return nil
}

// MarshalJSON always writes replies as an array, never null.
func (c Comment) MarshalJSON() ([]byte, error) {
	type plain Comment
	out := plain(c)
	if out.Replies == nil {
		out.Replies = []Comment{}
	}
	return json.Marshal(out)
}

// Decode parses a stored blob. An empty blob is an empty forest.
// Entries that are null, lack a positive id, have a blank author or body, or
// repeat an id seen earlier are dropped together with their replies.
func Decode(data []byte) (Forest, error) {
	if len(data) == 0 {
		return Forest{}, nil
	}
	var forest Forest
	if err := json.Unmarshal(data, &forest); err != nil {
		return nil, err
	}
	kept, dropped := prune(forest, make(map[int64]struct{}))
	if dropped > 0 {
		log.Printf("comments: dropped %d unusable stored entries", dropped)
	}
	return Normalize(kept), nil
}

func prune(list []Comment, seen map[int64]struct{}) ([]Comment, int) {
	kept := make([]Comment, 0, len(list))
	dropped := 0
	for _, c := range list {
		if _, dup := seen[c.ID]; c.ID <= 0 || dup || strings.TrimSpace(c.Author) == "" || strings.TrimSpace(c.Body) == "" {
			dropped += 1 + Count(c.Replies)
			continue
		}
		seen[c.ID] = struct{}{}
		var n int
		c.Replies, n = prune(c.Replies, seen)
		dropped += n
		kept = append(kept, c)
	}
	return kept, dropped
}

// Encode serializes the whole forest.
func Encode(forest Forest) ([]byte, error) {
	if forest == nil {
		forest = Forest{}
	}
	return json.Marshal(forest)
}

// FormatCreatedAt renders t using DateLayout.
func FormatCreatedAt(t time.Time) string {
	return t.Format(DateLayout)
}

func parseID(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	// Date.now() ids may come back as floats from other writers.
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func firstOf(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}
