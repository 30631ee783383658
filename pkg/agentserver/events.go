package agentserver

// Event is one line of the application/x-ndjson response stream. Exactly
// one of the Content/Input/Result-bearing shapes is populated, selected by
// Type.
type Event struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	// ToolName and Input are set on Type == "tool_use".
	ToolName string `json:"toolName,omitempty"`
	Input    any    `json:"input,omitempty"`
	// Result is set on Type == "done".
	Result *QueryResult `json:"result,omitempty"`
}

// QueryResult is the terminal payload of a query, carried by the "done"
// event.
type QueryResult struct {
	Response   string  `json:"response"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
	CostUsd    float64 `json:"costUsd"`
	NumTurns   int     `json:"numTurns"`
	DurationMs int64   `json:"durationMs"`
}

func textEvent(content string) Event {
	return Event{Type: "text", Content: content}
}

func toolUseEvent(toolName string, input any) Event {
	return Event{Type: "tool_use", ToolName: toolName, Input: input}
}

func doneEvent(result QueryResult) Event {
	return Event{Type: "done", Result: &result}
}
