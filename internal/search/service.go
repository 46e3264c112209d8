package search

import (
	"log"
	"sort"
	"strings"

	"readingroom/api/internal/comments"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Corpus supplies forests keyed by page slug for the in-memory fallback.
type Corpus func() map[string]comments.Forest

// Service is the facade that tries Meilisearch first and falls back to a scan
// of the forests the caller already holds.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

func (s *Service) indexing() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise scans the corpus.
func (s *Service) Search(q Query, corpus Corpus) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: "none"}
	}

	if s.indexing() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	var pages map[string]comments.Forest
	if corpus != nil {
		pages = corpus()
	}
	results, total := Scan(q, pages)
	return Response{Results: results, Total: total, Query: q.Text, Source: "scan"}
}

// Scan matches q case-insensitively against author and body of every comment
// in pages. Pages are visited in slug order and each forest in display order.
func Scan(q Query, pages map[string]comments.Forest) ([]Result, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	results := []Result{}
	if needle == "" {
		return results, 0
	}

	slugs := make([]string, 0, len(pages))
	for slug := range pages {
		if q.Page != "" && slug != q.Page {
			continue
		}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		comments.Walk(pages[slug], func(parentID int64, c comments.Comment) {
			if !strings.Contains(strings.ToLower(c.Author), needle) && !strings.Contains(strings.ToLower(c.Body), needle) {
				return
			}
			results = append(results, Result{
				Page:      slug,
				ID:        c.ID,
				ParentID:  parentID,
				Author:    c.Author,
				Snippet:   highlight(c.Body, needle),
				CreatedAt: c.CreatedAt,
			})
		})
	}

	total := len(results)
	offset := max(q.Offset, 0)
	if offset >= total {
		return []Result{}, total
	}
	end := min(offset+normalizeLimit(q.Limit), total)
	return results[offset:end], total
}

// Index indexes records (fire-and-forget to Meilisearch).
func (s *Service) Index(records []Record) {
	if !s.indexing() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexComments(records); err != nil {
			log.Printf("search: index %d comments: %v", len(records), err)
		}
	}()
}

// Delete removes records from the search index (fire-and-forget).
func (s *Service) Delete(ids []string) {
	if !s.indexing() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteComments(ids); err != nil {
			log.Printf("search: delete %d comments: %v", len(ids), err)
		}
	}()
}

// Reindex pushes every comment of every page to Meilisearch.
func (s *Service) Reindex(pages map[string]comments.Forest) {
	if !s.indexing() {
		return
	}
	for page, forest := range pages {
		if err := s.meili.IndexComments(RecordsOf(page, forest)); err != nil {
			log.Printf("search: reindex page %q: %v", page, err)
		}
	}
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s != nil && s.meili != nil {
		s.meili.Close()
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
