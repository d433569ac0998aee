// Package search implements lexical ranked retrieval over the FTS index.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conclave/internal/logging"
	"conclave/internal/store"
)

// MaxLimit caps the page size of a single search request.
const MaxLimit = 100

// DefaultLimit applies when a request does not specify a limit.
const DefaultLimit = 20

// Filters narrows a search beyond the project scope.
type Filters struct {
	// SourceType restricts hits to "file" or "conversation_message".
	SourceType string `json:"source_type,omitempty"`
	// ExcludeConversations drops message-sourced hits.
	ExcludeConversations bool `json:"exclude_conversations,omitempty"`
	// FileTypes matches location path suffixes, e.g. [".md", ".go"].
	FileTypes []string `json:"file_types,omitempty"`
	// Paths matches location paths against globs where '*' is a wildcard.
	Paths []string `json:"paths,omitempty"`
}

// Request is one search invocation.
type Request struct {
	ProjectID string   `json:"project_id"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
	Filters   *Filters `json:"filters,omitempty"`
}

// Hit is one ranked result. Path is hoisted for file sources; RoundNumber
// and Speaker for message sources.
type Hit struct {
	ChunkID        string         `json:"chunk_id"`
	SourceType     string         `json:"source_type"`
	SourceID       string         `json:"source_id"`
	ChunkIndex     int            `json:"chunk_index"`
	Content        string         `json:"content"`
	Highlighted    string         `json:"highlighted"`
	RelevanceScore float64        `json:"relevance_score"`
	Location       map[string]any `json:"location,omitempty"`
	Path           string         `json:"path,omitempty"`
	RoundNumber    int            `json:"round_number,omitempty"`
	Speaker        string         `json:"speaker,omitempty"`
}

// Response is a search result page.
type Response struct {
	Results         []*Hit `json:"results"`
	Total           int    `json:"total"`
	Query           string `json:"query"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// Service runs ranked queries against the retrieval index.
type Service struct {
	db           *sql.DB
	maxLimit     int
	defaultLimit int
	logger       logging.Logger
}

// New creates a search service over the store's database handle. Zero
// limits select the package defaults.
func New(st *store.Store, maxLimit, defaultLimit int, logger logging.Logger) *Service {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if logger == nil {
		logger = logging.WithComponent("search")
	}
	return &Service{db: st.DB(), maxLimit: maxLimit, defaultLimit: defaultLimit, logger: logger}
}

// Search executes one ranked query. The raw query is neutralised into a
// phrase literal, so index query operators in user input have no effect.
func (s *Service) Search(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	resp := &Response{
		Results: []*Hit{},
		Query:   req.Query,
		Limit:   limit,
		Offset:  offset,
	}

	phrase := PhraseLiteral(req.Query)
	if phrase == `""` {
		resp.ExecutionTimeMS = time.Since(started).Milliseconds()
		return resp, nil
	}

	where, args := buildPredicate(phrase, req.ProjectID, req.Filters)

	countQuery := `
		SELECT COUNT(*)
		FROM retrieval_index
		JOIN content_chunks c ON c.id = retrieval_index.chunk_id
		` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&resp.Total); err != nil {
		return nil, fmt.Errorf("search count failed: %w", err)
	}

	query := `
		SELECT c.id, c.source_type, c.source_id, c.chunk_index, c.content, c.location,
		       -bm25(retrieval_index) AS score,
		       highlight(retrieval_index, 0, '**', '**')
		FROM retrieval_index
		JOIN content_chunks c ON c.id = retrieval_index.chunk_id
		` + where + `
		ORDER BY bm25(retrieval_index)
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var hit Hit
		var location string
		if err := rows.Scan(&hit.ChunkID, &hit.SourceType, &hit.SourceID, &hit.ChunkIndex,
			&hit.Content, &location, &hit.RelevanceScore, &hit.Highlighted); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		enrich(&hit, location)
		resp.Results = append(resp.Results, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resp.ExecutionTimeMS = time.Since(started).Milliseconds()
	s.logger.Debug("search executed", "project_id", req.ProjectID,
		"total", resp.Total, "returned", len(resp.Results),
		"elapsed_ms", resp.ExecutionTimeMS)
	return resp, nil
}

// PhraseLiteral converts raw user input into an FTS phrase literal:
// internal double quotes are doubled, the result is trimmed and wrapped in
// quotes. An empty query becomes the empty phrase.
func PhraseLiteral(query string) string {
	trimmed := strings.TrimSpace(query)
	escaped := strings.ReplaceAll(trimmed, `"`, `""`)
	return `"` + escaped + `"`
}

// buildPredicate composes the WHERE clause shared by the count and page
// queries.
func buildPredicate(phrase, projectID string, filters *Filters) (string, []any) {
	conditions := []string{"retrieval_index MATCH ?", "retrieval_index.project_id = ?"}
	args := []any{phrase, projectID}

	if filters != nil {
		if filters.SourceType != "" {
			conditions = append(conditions, "c.source_type = ?")
			args = append(args, filters.SourceType)
		}
		if filters.ExcludeConversations {
			conditions = append(conditions, "c.source_type != 'conversation_message'")
		}
		if len(filters.FileTypes) > 0 {
			var suffixes []string
			for _, ft := range filters.FileTypes {
				suffixes = append(suffixes, "json_extract(c.location, '$.path') LIKE ?")
				args = append(args, "%"+ft)
			}
			conditions = append(conditions, "("+strings.Join(suffixes, " OR ")+")")
		}
		if len(filters.Paths) > 0 {
			var globs []string
			for _, p := range filters.Paths {
				globs = append(globs, "json_extract(c.location, '$.path') LIKE ?")
				args = append(args, strings.ReplaceAll(p, "*", "%"))
			}
			conditions = append(conditions, "("+strings.Join(globs, " OR ")+")")
		}
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// enrich parses the location JSON and hoists source-specific fields.
func enrich(hit *Hit, location string) {
	if location == "" {
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(location), &parsed); err != nil {
		return
	}
	hit.Location = parsed

	if path, ok := parsed["path"].(string); ok {
		hit.Path = path
	}
	if round, ok := parsed["round_number"].(float64); ok {
		hit.RoundNumber = int(round)
	}
	if speaker, ok := parsed["speaker"].(string); ok {
		hit.Speaker = speaker
	}
}
