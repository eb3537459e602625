package domain

// Prompt is the system/human message pair handed to the generation backend.
type Prompt struct {
	System string
	Human  string
}

// GenerateRequest asks the generation backend for a completion. A nil
// Schema requests free text; otherwise the backend is asked for JSON that
// satisfies Schema.
type GenerateRequest struct {
	Prompt     Prompt
	SchemaName string
	Schema     map[string]any
}
