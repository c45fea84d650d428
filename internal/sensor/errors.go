package sensor

import (
	"errors"
	"fmt"
)

// ValidationReason classifies why a message failed validation. Validation
// failures are terminal for a message: it is acknowledged and dropped, since
// redelivery can never make it valid.
type ValidationReason string

const (
	// MalformedPayload means the message body could not be deserialized
	// into the variant matching the inbound queue.
	MalformedPayload ValidationReason = "malformed_payload"
	// MissingField means a required field (device_name, timestamp) is absent.
	MissingField ValidationReason = "missing_field"
	// BadTimestamp means the timestamp did not parse to a plausible UTC instant.
	BadTimestamp ValidationReason = "bad_timestamp"
	// NoUsableData means every core measurement field was absent or out of range.
	NoUsableData ValidationReason = "no_usable_data"
)

// ValidationError is returned by Decode when a message must be dropped.
type ValidationError struct {
	Reason ValidationReason
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s): field %q: %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
}

// AsValidationError unwraps err into a *ValidationError, if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
