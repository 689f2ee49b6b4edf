// Package search provides full-text changeset search backed by
// Meilisearch, with a Postgres fallback when the index is down.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Status      string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterWorkspaceID string
	FilterStatus      string // empty = all statuses
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ChangeSetRecord is the data we index for a changeset.
type ChangeSetRecord struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}
