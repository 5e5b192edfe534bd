package sync

// Batch failure reasons
const (
	// ReasonMaxErrors means the batch reached the configured error threshold
	ReasonMaxErrors = "max-errors"
	// ReasonCancelled means the run was cancelled while the batch was open
	ReasonCancelled = "cancelled"
	// ReasonAuthentication means the API rejected our credentials
	ReasonAuthentication = "authentication"
	// ReasonTransformation means a payload could not be built and
	// transformation errors are not ignored
	ReasonTransformation = "transformation"
)

// Error is a failure that ends the batch it happened in
type Error struct {
	Err     error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
