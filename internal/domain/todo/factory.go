package todo

import (
	"time"

	"github.com/google/uuid"
)

func New(ownerID, text string) Todo {
	return Todo{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Text:      text,
		Completed: false,
		CreatedAt: time.Now().UTC(),
	}
}
