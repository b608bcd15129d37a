package domain

import "encoding/json"

// Speaker identifies who authored a RoleMessage.
type Speaker string

const (
	SpeakerSystem    Speaker = "system"
	SpeakerAssistant Speaker = "assistant"
	SpeakerUser      Speaker = "user"
)

// RoleMessage is the provider-agnostic chat message shape used by the
// orchestrator and LLM integrations. Exactly one of Content or ImageURL is set.
type RoleMessage struct {
	Speaker  Speaker `json:"role" yaml:"speaker"`
	Content  string  `json:"content,omitempty" yaml:"content"`
	ImageURL string  `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// TurnKind is the type of content carried by a Turn.
type TurnKind string

const (
	TurnText  TurnKind = "text"
	TurnImage TurnKind = "image"
)

// Turn is one unit of conversational input, oldest-first when passed as history.
type Turn struct {
	Kind    TurnKind
	Content string
}

// CompletionRequest is what the orchestrator hands to the model transport.
type CompletionRequest struct {
	Model      string
	Messages   []RoleMessage
	SchemaName string
	Schema     json.RawMessage
}
