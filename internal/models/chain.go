package models

type ChainRequest struct {
	Prompt string `json:"prompt"`
}

type ChainResponse struct {
	FinalContent string   `json:"finalContent"`
	Summaries    []string `json:"summaries"`
}

type MessageRequest struct {
	Prompt string `json:"prompt"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ChainUpdate is the envelope published for run progress.
type ChainUpdate struct {
	Type    string      `json:"type"` // "turn_completed" | "run_finished"
	Payload interface{} `json:"payload"`
}

type RunFinished struct {
	RunID     string `json:"run_id"`
	Turns     int    `json:"turns"`
	Reason    string `json:"reason"`
	Summaries int    `json:"summaries"`
}
