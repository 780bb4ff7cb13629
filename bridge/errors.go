package bridge

// Error codes sent with Reply.Error
const (
	CodeInvalidArgument = "invalid_argument"
	CodeInternal        = "internal"
)

type ExecutionError struct {
	Code    string
	Message string
	Err     error
	// If true, do not log this error
	UserError bool
}

func (err ExecutionError) Error() string {
	if err.Err == nil {
		return err.Message
	}
	return err.Err.Error()
}

func (err ExecutionError) Unwrap() error {
	return err.Err
}
