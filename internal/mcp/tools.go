package mcp

// toolSchemas describes the two tools exposed to agent clients.
func toolSchemas() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "check_status",
			"description": "Check status of files before editing. Returns orchestration commands.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"username": map[string]interface{}{
						"type":        "string",
						"description": "GitHub username used for lock attribution",
					},
					"file_paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "File paths to check, e.g. [\"src/auth.ts\", \"src/db.ts\"]",
					},
					"agent_head": map[string]interface{}{
						"type":        "string",
						"description": "Current git HEAD SHA of the working tree",
					},
					"repo_url": map[string]interface{}{
						"type":        "string",
						"description": "Repository URL",
					},
					"branch": map[string]interface{}{
						"type":        "string",
						"description": "Git branch name (default: master, with main fallback)",
					},
				},
				"required": []string{"username", "file_paths", "agent_head", "repo_url"},
			},
		},
		{
			"name":        "post_status",
			"description": "Update lock status for files. Supports atomic multi-file locking.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"username": map[string]interface{}{
						"type":        "string",
						"description": "GitHub username used for lock attribution",
					},
					"file_paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "File paths to lock or release",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"READING", "WRITING", "OPEN"},
						"description": "Lock status",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Context message about what you're doing",
					},
					"agent_head": map[string]interface{}{
						"type":        "string",
						"description": "Current git HEAD SHA",
					},
					"new_repo_head": map[string]interface{}{
						"type":        "string",
						"description": "New HEAD SHA after push (for OPEN status)",
					},
					"repo_url": map[string]interface{}{
						"type":        "string",
						"description": "Repository URL",
					},
					"branch": map[string]interface{}{
						"type":        "string",
						"description": "Git branch name (default: master, with main fallback)",
					},
				},
				"required": []string{"username", "file_paths", "status", "message", "repo_url"},
			},
		},
	}
}
