package analytics

import (
	"fmt"
	"strings"
)

// DeletePolicy controls what TaskDeleted does to the global tasks counter.
type DeletePolicy string

const (
	// DeleteRetain keeps the tasks counter as an ever-created total.
	DeleteRetain DeletePolicy = "retain"
	// DeleteDecrement subtracts deleted tasks from the tasks counter.
	DeleteDecrement DeletePolicy = "decrement"
)

// ParseDeletePolicy accepts "retain" or "decrement"; empty means retain.
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DeleteRetain:
		return DeleteRetain, nil
	case DeleteDecrement:
		return DeleteDecrement, nil
	default:
		return "", fmt.Errorf("unknown delete policy %q", raw)
	}
}

// Policy carries the behaviour switches of the engine.
type Policy struct {
	Delete DeletePolicy
	// DedupEvents consults the applied-event ledger before running a handler.
	DedupEvents bool
}

func DefaultPolicy() Policy {
	return Policy{Delete: DeleteRetain, DedupEvents: true}
}
