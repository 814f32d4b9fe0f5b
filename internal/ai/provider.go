package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the synchronous "complete text" capability. Callers bound the
// wait with the context and downgrade failures to a textual error result;
// a provider error never aborts a paid job.
type Provider interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}
