// Package mcp describes the Model Context Protocol tool and resource
// surface exposed by the timesheet service. The teacher generated this
// package from an x-mcp OpenAPI extension via cmd/mcp-codegen; that spec
// file isn't part of this module, so the tool/resource tables are
// hand-maintained here instead, kept in sync with the handlers in
// internal/handler/mcp.go that implement them.
package mcp

// ServerInfo contains MCP server metadata.
type ServerInfo struct {
	Name         string
	Version      string
	Instructions string
}

// GetServerInfo returns the MCP server metadata.
func GetServerInfo() ServerInfo {
	return ServerInfo{
		Name:    "timesheet",
		Version: "1.0.0",
		Instructions: "Tools for querying and managing time tracked against projects: " +
			"list projects, review and classify calendar events, create time entries, " +
			"and manage classification rules.",
	}
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// GetResources returns all MCP resources.
func GetResources() []Resource {
	return []Resource{
		{
			URI:         "timesheet://docs/query-syntax",
			Name:        "Classification query syntax",
			Description: "Reference for the query language used by classification rules",
			MimeType:    "text/markdown",
		},
	}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "description": description, "default": def}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// GetTools returns all MCP tool definitions.
func GetTools() []Tool {
	return []Tool{
		{
			Name:        "list_projects",
			Description: "List all projects, optionally including archived ones",
			InputSchema: schema(map[string]any{
				"include_archived": boolProp("Include archived projects", false),
			}),
		},
		{
			Name:        "get_time_summary",
			Description: "Summarize tracked hours over a date range, grouped by project or date",
			InputSchema: schema(map[string]any{
				"start_date": stringProp("Start date (YYYY-MM-DD), defaults to 7 days ago"),
				"end_date":   stringProp("End date (YYYY-MM-DD), defaults to today"),
				"group_by":   map[string]any{"type": "string", "description": "Grouping dimension", "enum": []string{"project", "date"}, "default": "project"},
			}),
		},
		{
			Name:        "list_pending_events",
			Description: "List calendar events that haven't been classified to a project yet",
			InputSchema: schema(map[string]any{
				"start_date": stringProp("Start date (YYYY-MM-DD), defaults to 30 days ago"),
				"end_date":   stringProp("End date (YYYY-MM-DD), defaults to today"),
				"limit":      numberProp("Maximum number of events to return"),
			}),
		},
		{
			Name:        "classify_event",
			Description: "Classify a calendar event to a project, or mark it skipped",
			InputSchema: schema(map[string]any{
				"event_id":   stringProp("Calendar event ID"),
				"project_id": stringProp("Project ID to classify the event to"),
				"skip":       boolProp("Mark the event as skipped instead of classifying it", false),
			}, "event_id"),
		},
		{
			Name:        "create_time_entry",
			Description: "Create a manual time entry for a project on a given date",
			InputSchema: schema(map[string]any{
				"project_id":  stringProp("Project ID"),
				"date":        stringProp("Entry date (YYYY-MM-DD)"),
				"hours":       numberProp("Number of hours"),
				"description": stringProp("Optional description"),
			}, "project_id", "date", "hours"),
		},
		{
			Name:        "search_events",
			Description: "Search calendar events with a query expression (the classification query syntax), optionally scoped to a date range",
			InputSchema: schema(map[string]any{
				"query":      stringProp("Query expression; a bare word searches title, description and calendar name"),
				"start_date": stringProp("Start date (YYYY-MM-DD)"),
				"end_date":   stringProp("End date (YYYY-MM-DD)"),
				"limit":      numberProp("Maximum number of events to return"),
			}, "query"),
		},
		{
			Name:        "list_rules",
			Description: "List classification rules",
			InputSchema: schema(map[string]any{
				"include_disabled": boolProp("Include disabled rules", false),
			}),
		},
		{
			Name:        "create_rule",
			Description: "Create a classification rule that matches events to a project, or a skip rule",
			InputSchema: schema(map[string]any{
				"query":      stringProp("Rule query expression"),
				"project_id": stringProp("Project ID to classify matching events to"),
				"skip":       boolProp("Create a skip rule instead of a project rule", false),
				"weight":     numberProp("Rule weight, defaults to 1.0"),
			}, "query"),
		},
		{
			Name:        "preview_rule",
			Description: "Preview which events a rule query would match without applying it",
			InputSchema: schema(map[string]any{
				"query":      stringProp("Rule query expression"),
				"project_id": stringProp("Project ID the rule would classify to"),
				"start_date": stringProp("Start date (YYYY-MM-DD)"),
				"end_date":   stringProp("End date (YYYY-MM-DD)"),
			}, "query"),
		},
		{
			Name:        "bulk_classify",
			Description: "Classify all events matching a query to a project, or mark them skipped",
			InputSchema: schema(map[string]any{
				"query":      stringProp("Rule query expression"),
				"project_id": stringProp("Project ID to classify matching events to"),
				"skip":       boolProp("Mark matching events as skipped instead of classifying them", false),
			}, "query"),
		},
		{
			Name:        "apply_rules",
			Description: "Run all enabled classification rules over pending (and optionally reclassifiable) events",
			InputSchema: schema(map[string]any{
				"start_date": stringProp("Start date (YYYY-MM-DD), defaults to 30 days ago"),
				"end_date":   stringProp("End date (YYYY-MM-DD), defaults to today"),
				"dry_run":    boolProp("Preview the results without writing changes", false),
				"force":      boolProp("Also reclassify events that were classified manually or by LLM", false),
			}),
		},
		{
			Name:        "explain_classification",
			Description: "Explain why a calendar event was (or wasn't) classified to its current project",
			InputSchema: schema(map[string]any{
				"event_id": stringProp("Calendar event ID"),
			}, "event_id"),
		},
	}
}

// ToolNames returns a list of all tool names.
func ToolNames() []string {
	tools := GetTools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
