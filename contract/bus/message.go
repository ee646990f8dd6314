package bus

// Message is any value passed to Publish. Its dynamic type is the dispatch key.
type Message = any

// DeadLetter wraps a message that matched no handler.
// Handlers receive dead letters by binding the DeadLetter type.
type DeadLetter struct {
	// Message is the original published value.
	Message Message
	// Source identifies the bus that synthesized the dead letter.
	Source string
}
