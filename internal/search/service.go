package search

import (
	"context"
	"log"

	"suitedesk/api/internal/store"
)

// Fallback serves changeset search from Postgres when Meilisearch is
// down or not configured.
type Fallback interface {
	SearchChangeSets(ctx context.Context, query string, limit int) ([]store.ChangeSet, error)
}

// Service is the facade that tries Meilisearch first and falls back to
// the Postgres ILIKE query.
type Service struct {
	meili    *Meili
	fallback Fallback
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise the Postgres
// fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	items, err := s.fallback.SearchChangeSets(ctx, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if q.FilterWorkspaceID != "" && item.WorkspaceID != q.FilterWorkspaceID {
			continue
		}
		if q.FilterStatus != "" && item.Status != q.FilterStatus {
			continue
		}
		results = append(results, Result{
			ID:          item.ID,
			WorkspaceID: item.WorkspaceID,
			Title:       item.Title,
			Snippet:     item.Description,
			Status:      item.Status,
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexChangeSet pushes a changeset to Meilisearch, fire-and-forget.
func (s *Service) IndexChangeSet(record ChangeSetRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChangeSet(record); err != nil {
			log.Printf("search: index changeset %s: %v", record.ID, err)
		}
	}()
}

// DeleteChangeSet removes a changeset from the index, fire-and-forget.
func (s *Service) DeleteChangeSet(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteChangeSet(id); err != nil {
			log.Printf("search: delete changeset %s: %v", id, err)
		}
	}()
}

// ReindexAll bulk-indexes changesets, typically at startup.
func (s *Service) ReindexAll(records []ChangeSetRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexChangeSets(records); err != nil {
		log.Printf("search: reindex changesets: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
