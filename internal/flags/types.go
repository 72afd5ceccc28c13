package flags

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("flag not found")

// Well-known switches read by the executor.
const (
	// Executions gates every new execution; unset means enabled.
	Executions = "executions.enabled"
	// DynamicFees overrides DYNAMIC_PRIORITY_FEE at run time.
	DynamicFees = "fees.dynamic"
)

type Flag struct {
	Key       string    `json:"key"`
	Value     bool      `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
