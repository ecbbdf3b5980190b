package models

// SearchQuery is the validated structured representation of a user's
// equipment request. It is produced by the query validator from untrusted
// model output and is the only shape the storage layer accepts.
type SearchQuery struct {
	Text        string         `json:"text,omitempty"`
	Category    string         `json:"category,omitempty"`
	Subcategory string         `json:"subcategory,omitempty"`
	Brand       string         `json:"brand,omitempty"`
	Region      string         `json:"region,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// Step is the outcome of one dialog turn: either a clarifying question for
// the user or a final validated query ready for search.
type Step struct {
	Action   string       `json:"action"` // "ask" or "final"
	Question string       `json:"question,omitempty"`
	Query    *SearchQuery `json:"query,omitempty"`
}

// Step actions.
const (
	ActionAsk   = "ask"
	ActionFinal = "final"
)

// EquipmentSummary is one catalog item as returned by the search engine.
// Price is a number, a string, or nil meaning "price on request".
type EquipmentSummary struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Category       string         `json:"category"`
	Brand          string         `json:"brand,omitempty"`
	Price          any            `json:"price"`
	MainParameters map[string]any `json:"main_parameters,omitempty"`
}

// SearchResult is a ranked result set tagged with the strategy the storage
// engine used to produce it.
type SearchResult struct {
	Items        []EquipmentSummary `json:"items"`
	Total        int                `json:"total"`
	UsedStrategy string             `json:"used_strategy"`
	Suggestions  []string           `json:"suggestions,omitempty"`
}

// Search strategies reported by the storage layer.
const (
	StrategyFTS    = "fts"
	StrategyVector = "vector"
	StrategyMixed  = "mixed"
)

// NATS request from the chat-bot backend: one dialog turn.
type DialogRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

// NATS response to the chat-bot backend.
type DialogResponse struct {
	SessionID    string        `json:"session_id"`
	RequestID    string        `json:"request_id"`
	Status       string        `json:"status"` // "NEEDS_INFO", "READY", "ERROR"
	Question     string        `json:"question,omitempty"`
	Query        *SearchQuery  `json:"query,omitempty"`
	Result       *SearchResult `json:"result,omitempty"`
	UserMessage  string        `json:"user_message,omitempty"`
	ErrorCode    *string       `json:"error_code,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
}

// SearchRequest is a direct search bypassing the dialog, e.g. from catalog
// menu buttons in the bot UI.
type SearchRequest struct {
	Query *SearchQuery `json:"query"`
}

// Status constants
const (
	StatusNeedsInfo = "NEEDS_INFO"
	StatusReady     = "READY"
	StatusError     = "ERROR"
)

// Error codes
const (
	ErrorLLMTimeout     = "LLM_API_TIMEOUT"
	ErrorLLMFailed      = "LLM_API_FAILED"
	ErrorParseError     = "PARSE_ERROR"
	ErrorInvalidQuery   = "INVALID_QUERY"
	ErrorSearchFailed   = "SEARCH_FAILED"
	ErrorEmptyUtterance = "EMPTY_UTTERANCE"
)
