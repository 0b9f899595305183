package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a generic entity operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported entity operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// IsMutation returns true for the operations that modify entity state.
func (o Operation) IsMutation() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Notifier is an interface to receive entity change notifications
type Notifier interface {
	Notify(entity string, operation Operation, payload []byte)
}
