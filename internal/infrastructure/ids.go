package infrastructure

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewJobID returns an opaque, time-sortable job handle that cannot be enumerated.
func NewJobID() string {
	return ksuid.New().String()
}

// NewEntityID is used for users and API keys.
func NewEntityID() string {
	return uuid.NewString()
}
