package jobs

import (
	"encoding/json"
	"time"
)

// SendWelcomePayload is used to greet a freshly registered account.
// Keep payload minimal and ID-based; worker can load details from DB.
type SendWelcomePayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	RequestedAt time.Time `json:"requestedAt"`
	RequestID   string    `json:"requestId,omitempty"` // optional: correlation
}

// ExportTodosCSVPayload generates a CSV export of a user's todos.
type ExportTodosCSVPayload struct {
	UserID string `json:"userId"`
}

func (p SendWelcomePayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
