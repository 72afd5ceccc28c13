package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BundleStatus is the inflight state of a bundle as reported by the block engine.
type BundleStatus string

const (
	StatusPending  BundleStatus = "Pending"
	StatusLanded   BundleStatus = "Landed"
	StatusFailed   BundleStatus = "Failed"
	StatusInvalid  BundleStatus = "Invalid"
	StatusExpired  BundleStatus = "Expired"
	StatusNotFound BundleStatus = "NotFound"
)

// Terminal reports whether polling can stop on this status.
func (s BundleStatus) Terminal() bool {
	switch s {
	case StatusLanded, StatusFailed, StatusInvalid, StatusExpired:
		return true
	}
	return false
}

type InflightStatus struct {
	BundleID   string       `json:"bundle_id"`
	Status     BundleStatus `json:"status"`
	LandedSlot *uint64      `json:"landed_slot"`
}

type FinalizedStatus struct {
	BundleID           string          `json:"bundle_id"`
	Transactions       []string        `json:"transactions"`
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmation_status"`
	Err                json.RawMessage `json:"err"`
}

// Failed distinguishes a real error payload from the success wrapper. Both a null
// payload and {"Ok":null} mean the bundle executed without error.
func (f *FinalizedStatus) Failed() bool {
	return isErrorPayload(f.Err)
}

func isErrorPayload(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper) == 1 {
		if ok, has := wrapper["Ok"]; has && (len(ok) == 0 || string(ok) == "null") {
			return false
		}
	}
	return true
}

var (
	ErrBundleTooLarge      = errors.New("bundle exceeds maximum size")
	ErrEmptyBundle         = errors.New("bundle is empty")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// SubmissionError is a failed submission. Ambiguous is set when the relay never
// answered with an explicit rejection, so the transaction may still have been accepted.
type SubmissionError struct {
	Mode      string
	Err       error
	Ambiguous bool
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s submission rejected: %v", e.Mode, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// BundleFailedError is a terminal non-success bundle outcome.
type BundleFailedError struct {
	BundleID string
	Status   BundleStatus
	Payload  json.RawMessage
}

func (e *BundleFailedError) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("bundle %s %s: %s", e.BundleID, e.Status, string(e.Payload))
	}
	return fmt.Sprintf("bundle %s %s", e.BundleID, e.Status)
}

// TransactionFailedError is a landed transaction that executed with an error.
type TransactionFailedError struct {
	Signature string
	Payload   json.RawMessage
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, string(e.Payload))
}

// IsAmbiguousSubmission reports whether err is a submission failure after which the
// transaction may still land.
func IsAmbiguousSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Ambiguous
}

// IsTimeout reports whether err is an ambiguous confirmation timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout)
}
