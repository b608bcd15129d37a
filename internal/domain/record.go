package domain

// Record is a generic persisted table entity. PartitionKey and RowKey
// together form its identity; a changed identity is a new record.
//
// Payload values are nil, string, bool, numbers, and nested map[string]any or
// []any of those. Stores read integers (and integral floats) back as int64
// and other numbers as float64. Instants are written as RFC 3339 strings.
type Record struct {
	PartitionKey string         `json:"partitionKey" yaml:"partitionKey"`
	RowKey       string         `json:"rowKey" yaml:"rowKey"`
	Payload      map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Inbound is one message received from the chat transport.
type Inbound struct {
	ChatID   int64
	UserID   int64
	Text     string
	ImageURL string
}
