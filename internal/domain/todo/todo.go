package todo

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("todo not found")

type Todo struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateTodoRequest struct {
	Text string `json:"text" binding:"required,min=1,max=500"`
}
