package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/shutter/internal/app"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"user_search": {
		def:     userSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUserSearch },
	},
	"history_list": {
		def:     historyListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryList },
	},
	"history_remove": {
		def:     historyRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryRemove },
	},
	"history_clear": {
		def:     historyClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryClear },
	},
	"media_list": {
		def:     mediaListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMediaList },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the shutter tools registered.
// Tools listed in the config's DisabledTools are excluded.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"shutter",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(a)

	if unknown := ValidateDisabledTools(a.Config.DisabledTools); len(unknown) > 0 {
		a.Log.Warn("ignoring unknown disabled tools", zap.Strings("tools", unknown))
	}
	disabled := make(map[string]bool)
	for _, name := range a.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport. It returns when stdin
// closes or the process is signalled.
func Run(a *app.App, version string) error {
	a.Log.Info("mcp server starting", zap.String("version", version))
	return server.ServeStdio(NewServer(a, version))
}
