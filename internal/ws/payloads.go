package ws

import "points_ledger/internal/domain"

// Envelope wraps every frame sent to the client.
type Envelope struct {
	Type    string          `json:"type"`
	Account *domain.Account `json:"account,omitempty"`
	// Pending counts writes still waiting in the local queue.
	Pending int           `json:"pending,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
