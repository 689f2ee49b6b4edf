package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"suitedesk/api/internal/store"
)

type fakeFallback struct {
	items []store.ChangeSet
	err   error
}

func (f *fakeFallback) SearchChangeSets(_ context.Context, query string, _ int) ([]store.ChangeSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	matched := make([]store.ChangeSet, 0)
	for _, item := range f.items {
		if query == "" || strings.Contains(strings.ToLower(item.Title), strings.ToLower(query)) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func TestSearchFallsBackWithoutMeili(t *testing.T) {
	fallback := &fakeFallback{items: []store.ChangeSet{
		{ID: "cs-1", WorkspaceID: "ws-1", Title: "Fix restlet pagination", Status: "draft"},
		{ID: "cs-2", WorkspaceID: "ws-2", Title: "Restlet auth hardening", Status: "applied"},
	}}
	service := NewService(nil, fallback)

	response := service.Search(context.Background(), Query{Text: "restlet"})
	if response.Total != 2 {
		t.Fatalf("expected 2 results, got %d", response.Total)
	}
	if response.Query != "restlet" {
		t.Fatalf("expected query echoed, got %q", response.Query)
	}
}

func TestSearchFallbackFilters(t *testing.T) {
	fallback := &fakeFallback{items: []store.ChangeSet{
		{ID: "cs-1", WorkspaceID: "ws-1", Title: "Fix restlet pagination", Status: "draft"},
		{ID: "cs-2", WorkspaceID: "ws-2", Title: "Restlet auth hardening", Status: "applied"},
	}}
	service := NewService(nil, fallback)

	response := service.Search(context.Background(), Query{Text: "restlet", FilterWorkspaceID: "ws-2"})
	if response.Total != 1 || response.Results[0].ID != "cs-2" {
		t.Fatalf("expected only ws-2 result, got %+v", response.Results)
	}

	response = service.Search(context.Background(), Query{Text: "restlet", FilterStatus: "draft"})
	if response.Total != 1 || response.Results[0].ID != "cs-1" {
		t.Fatalf("expected only draft result, got %+v", response.Results)
	}
}

func TestSearchFallbackErrorYieldsEmptyResponse(t *testing.T) {
	service := NewService(nil, &fakeFallback{err: errors.New("connection refused")})

	response := service.Search(context.Background(), Query{Text: "anything"})
	if response.Total != 0 {
		t.Fatalf("expected empty response, got %d", response.Total)
	}
	if response.Results == nil {
		t.Fatal("expected non-nil results slice")
	}
}

func TestIndexIsNoOpWithoutMeili(t *testing.T) {
	service := NewService(nil, &fakeFallback{})
	// Must not panic or block.
	service.IndexChangeSet(ChangeSetRecord{ID: "cs-1"})
	service.DeleteChangeSet("cs-1")
	service.ReindexAll([]ChangeSetRecord{{ID: "cs-1"}})
}
