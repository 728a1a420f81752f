package models

// Answer is the outcome of one question. Matched is false when the index
// returned nothing and no completion was requested.
type Answer struct {
	Question  string   `json:"question"`
	Text      string   `json:"text,omitempty"`
	Matched   bool     `json:"matched"`
	Matches   int      `json:"matches"`
	Sources   []string `json:"sources,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
	QueryTime int64    `json:"query_time_ms"`
}
