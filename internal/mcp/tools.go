package mcp

import "github.com/mark3labs/mcp-go/mcp"

var userSearchToolDef = mcp.NewTool("user_search",
	mcp.WithDescription("Search the user directory. A leading @ is ignored. "+
		"Successful searches are added to the recent search history."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Name or @username to search for"),
	),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List recent searches, most recent first (at most 5)."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var historyRemoveToolDef = mcp.NewTool("history_remove",
	mcp.WithDescription("Remove one entry from the recent search history."),
	mcp.WithString("entry",
		mcp.Required(),
		mcp.Description("The history entry to remove, exactly as listed"),
	),
)

var historyClearToolDef = mcp.NewTool("history_clear",
	mcp.WithDescription("Delete the entire recent search history."),
	mcp.WithBoolean("confirm",
		mcp.Required(),
		mcp.Description("Must be true; guards against accidental clears"),
	),
	mcp.WithDestructiveHintAnnotation(true),
)

var mediaListToolDef = mcp.NewTool("media_list",
	mcp.WithDescription("List saved photos and videos, newest first."),
	mcp.WithString("type",
		mcp.Description("Only return this media type"),
		mcp.Enum("photo", "video"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of items to return (0 = all)"),
		mcp.Min(0),
	),
	mcp.WithReadOnlyHintAnnotation(true),
)
