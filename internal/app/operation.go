package app

import (
	"strings"
	"time"
)

// Operation tracks one CLI invocation for logging. Its ID tags every log
// line the invocation writes.
type Operation struct {
	ID     string
	Name   string
	Params string
	Status string // "success" or "error"
}

// NewOperation creates an operation stamped with the given start time.
func NewOperation(name string, params []string, started time.Time) *Operation {
	return &Operation{
		ID:     started.UTC().Format("20060102T150405Z"),
		Name:   name,
		Params: strings.Join(params, " "),
		Status: "success",
	}
}

// Finish records the outcome of the operation.
func (op *Operation) Finish(err error) {
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
}
