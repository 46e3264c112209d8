package search

import (
	"html"
	"strconv"
	"strings"

	"readingroom/api/internal/comments"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Page      string `json:"page"`
	ID        int64  `json:"id"`
	ParentID  int64  `json:"parentId,omitempty"`
	Author    string `json:"author"`
	Snippet   string `json:"snippet"` // HTML-escaped body, matches wrapped in <mark>
	CreatedAt string `json:"createdAt,omitempty"`
}

// Query describes a search request. An empty Page searches every page.
type Query struct {
	Text   string
	Page   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComments(records []Record) error
	DeleteComments(ids []string) error
}

// Record is the data we index for one comment.
type Record struct {
	ID        string `json:"id"`
	CommentID int64  `json:"commentId"`
	Page      string `json:"page"`
	ParentID  int64  `json:"parentId"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

// RecordID is the index primary key of a comment. Comment ids are only
// unique within one page, so the page is part of the key.
func RecordID(page string, id int64) string {
	if page == "" {
		return "root_" + strconv.FormatInt(id, 10)
	}
	return "p-" + page + "_" + strconv.FormatInt(id, 10)
}

// NewRecord builds the index record of a single comment.
func NewRecord(page string, parentID int64, c comments.Comment) Record {
	return Record{
		ID:        RecordID(page, c.ID),
		CommentID: c.ID,
		Page:      page,
		ParentID:  parentID,
		Author:    c.Author,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

// RecordsOf flattens a forest into index records.
func RecordsOf(page string, forest comments.Forest) []Record {
	records := make([]Record, 0, comments.Count(forest))
	comments.Walk(forest, func(parentID int64, c comments.Comment) {
		records = append(records, NewRecord(page, parentID, c))
	})
	return records
}

// SubtreeRecordIDs lists the index keys of c and every reply beneath it.
func SubtreeRecordIDs(page string, c comments.Comment) []string {
	ids := comments.IDs(c)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, RecordID(page, id))
	}
	return out
}

// Highlight markers handed to Meilisearch. They sit in the Unicode private use
// area and pass through html.EscapeString untouched; a stray one in stored
// text can only ever become a <mark> tag.
const (
	markOpen  = "\ue000"
	markClose = "\ue001"
)

var markReplacer = strings.NewReplacer(markOpen, "<mark>", markClose, "</mark>")

// renderMarked escapes text and turns the highlight markers into <mark> tags.
func renderMarked(text string) string {
	return markReplacer.Replace(html.EscapeString(text))
}

// highlight escapes body and marks every case-insensitive occurrence of needle.
func highlight(body, needle string) string {
	lower := strings.ToLower(body)
	needle = strings.ToLower(needle)
	if needle == "" || len(lower) != len(body) {
		return html.EscapeString(body)
	}
	var b strings.Builder
	rest := 0
	for {
		i := strings.Index(lower[rest:], needle)
		if i < 0 {
			break
		}
		start := rest + i
		end := start + len(needle)
		b.WriteString(html.EscapeString(body[rest:start]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(body[start:end]))
		b.WriteString("</mark>")
		rest = end
	}
	b.WriteString(html.EscapeString(body[rest:]))
	return b.String()
}
