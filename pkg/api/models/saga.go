// Package models defines request and response payloads for the HTTP API.
package models

import (
	"github.com/sagalog/sagalog/pkg/inspect"
	"github.com/sagalog/sagalog/pkg/saga"
)

// SagaListQuery holds validated query parameters for the saga list endpoint.
type SagaListQuery struct {
	RootOnly bool   `validate:"-"`
	Status   string `validate:"omitempty,oneof=active completed aborted"`
	Limit    int    `validate:"min=0,max=500"`
	Offset   int    `validate:"min=0"`
}

// SourcesResponse lists the registered log sources.
type SourcesResponse struct {
	Sources []string `json:"sources"`
}

// SagaListResponse is a paginated list of saga summaries.
type SagaListResponse struct {
	Items  []inspect.SagaSummary `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// MessagesQuery holds validated query parameters for the message log endpoint.
type MessagesQuery struct {
	Limit  int `validate:"min=0,max=1000"`
	Offset int `validate:"min=0"`
}

// MessagesResponse is a paginated slice of a saga's message log.
type MessagesResponse struct {
	SagaID   string         `json:"saga_id"`
	Messages []saga.Message `json:"messages"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// SagaActionResponse is returned by abort and delete operations.
type SagaActionResponse struct {
	SagaID string `json:"saga_id"`
	Status string `json:"status"`
}
