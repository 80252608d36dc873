package parser

// NormalizeToolCategory maps a raw tool name to a normalized
// category. Categories: Read, Edit, Write, Bash, Grep, Glob,
// Task, Other.
func NormalizeToolCategory(rawName string) string {
	switch rawName {
	// Claude Code tools (B-Line)
	case "Read":
		return "Read"
	case "Edit":
		return "Edit"
	case "Write", "NotebookEdit":
		return "Write"
	case "Bash":
		return "Bash"
	case "Grep":
		return "Grep"
	case "Glob":
		return "Glob"
	case "Task":
		return "Task"

	// Codex tools (A-Line)
	case "shell_command", "exec_command",
		"write_stdin", "shell":
		return "Bash"
	case "apply_patch":
		return "Edit"

	// Gemini tools (C-Line)
	case "read_file":
		return "Read"
	case "write_file", "edit_file":
		return "Write"
	case "run_command", "execute_command":
		return "Bash"
	case "search_files":
		return "Grep"
	case "list_directory":
		return "Glob"
	case "activate_skill":
		return "Task"

	// OpenCode tools (D-Relational)
	case "read":
		return "Read"
	case "edit", "patch":
		return "Edit"
	case "write":
		return "Write"
	case "bash":
		return "Bash"
	case "grep":
		return "Grep"
	case "glob", "list":
		return "Glob"
	case "task":
		return "Task"

	default:
		return "Other"
	}
}
