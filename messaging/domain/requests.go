package domain

// SendMessageRequest is the REST payload for an outbound text send. The
// gateway picks the channel; callers only name the destination.
type SendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}
