package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/shutter/internal/app"
	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/errors"
	"github.com/hpungsan/shutter/internal/media"
	"github.com/hpungsan/shutter/internal/search"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	search *search.Controller
	media  *media.Library
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{search: a.Search, media: a.Media}
}

// UserSearchRequest represents the arguments for user_search.
type UserSearchRequest struct {
	Query string `json:"query"`
}

// HistoryRemoveRequest represents the arguments for history_remove.
type HistoryRemoveRequest struct {
	Entry string `json:"entry"`
}

// HistoryClearRequest represents the arguments for history_clear.
type HistoryClearRequest struct {
	Confirm bool `json:"confirm"`
}

// MediaListRequest represents the arguments for media_list.
type MediaListRequest struct {
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// UserSearchOutput is the user_search result.
type UserSearchOutput struct {
	Query string                  `json:"query"`
	Users []directory.UserSummary `json:"users"`
	Count int                     `json:"count"`
}

// HistoryOutput is returned by the history tools.
type HistoryOutput struct {
	History []string `json:"history"`
	Removed *bool    `json:"removed,omitempty"`
	Cleared *bool    `json:"cleared,omitempty"`
}

// MediaListOutput is the media_list result.
type MediaListOutput struct {
	Items []media.Record `json:"items"`
	Count int            `json:"count"`
	Total int            `json:"total"`
}

// HandleUserSearch handles the user_search tool call.
func (h *Handlers) HandleUserSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserSearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	term := search.NormalizeTerm(input.Query)
	if term == "" {
		return errorResult(errors.NewInvalidRequest("query is required")), nil
	}

	users, err := h.search.Lookup(ctx, input.Query)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(UserSearchOutput{Query: term, Users: users, Count: len(users)})
}

// HandleHistoryList handles the history_list tool call.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(HistoryOutput{History: h.search.History()})
}

// HandleHistoryRemove handles the history_remove tool call.
func (h *Handlers) HandleHistoryRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRemoveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.TrimSpace(input.Entry) == "" {
		return errorResult(errors.NewInvalidRequest("entry is required")), nil
	}

	removed := slices.Contains(h.search.History(), input.Entry)
	if err := h.search.RemoveHistoryEntry(ctx, input.Entry); err != nil {
		return errorResult(err), nil
	}

	return successResult(HistoryOutput{History: h.search.History(), Removed: &removed})
}

// HandleHistoryClear handles the history_clear tool call.
func (h *Handlers) HandleHistoryClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryClearRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewInvalidRequest("confirm must be true to clear history")), nil
	}

	cleared, err := h.search.ClearHistory(ctx, func() bool { return true })
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(HistoryOutput{History: h.search.History(), Cleared: &cleared})
}

// HandleMediaList handles the media_list tool call.
func (h *Handlers) HandleMediaList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MediaListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Type != "" && !media.Kind(input.Type).Valid() {
		return errorResult(errors.NewInvalidRequest("type must be photo or video")), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must be >= 0")), nil
	}

	records, err := h.media.Load(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]media.Record, 0, len(records))
	for _, r := range records {
		if input.Type != "" && r.Kind != media.Kind(input.Type) {
			continue
		}
		items = append(items, r)
	}
	total := len(items)
	if input.Limit > 0 && len(items) > input.Limit {
		items = items[:input.Limit]
	}

	return successResult(MediaListOutput{Items: items, Count: len(items), Total: total})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message := appErr.Message
		// Keep context added by wrapping (e.g. "lookup: ...").
		if full := err.Error(); full != appErr.Error() {
			message = strings.TrimSuffix(full, appErr.Error()) + appErr.Message
		}
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": message,
			"status":  appErr.Status,
		}
		if appErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
