package domain

// MessageType discriminates operator messages.
type MessageType string

const (
	MessagePause        MessageType = "pause"
	MessageResume       MessageType = "resume"
	MessageHalt         MessageType = "halt"
	MessageJump         MessageType = "jump"
	MessageSetInterrupt MessageType = "setInterrupt"
	MessageRetry        MessageType = "retry"
	MessageSkip         MessageType = "skip"
)

// Message is delivered to a program through its handle.
// Point is only meaningful for jump, Value only for setInterrupt.
type Message struct {
	Type  MessageType `json:"type"`
	Point any         `json:"point,omitempty"`
	Value bool        `json:"value,omitempty"`
}
