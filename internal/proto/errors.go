package proto

// Code names one entry of the error taxonomy shared by relay and participants.
type Code string

const (
	CodeInvalidMessage           Code = "InvalidMessage"
	CodeSelfCallRejected         Code = "SelfCallRejected"
	CodeTargetNotFound           Code = "TargetNotFound"
	CodeAlreadyPaired            Code = "AlreadyPaired"
	CodeStaleAnswer              Code = "StaleAnswer"
	CodeNotInCall                Code = "NotInCall"
	CodeTranslationEngineFailure Code = "TranslationEngineFailure"
	CodeTransportFailure         Code = "TransportFailure"
	CodeMaxReconnectExceeded     Code = "MaxReconnectExceeded"
)

// Error is a coded protocol error. Two Errors match under errors.Is when
// their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidMessage           = &Error{Code: CodeInvalidMessage}
	ErrSelfCallRejected         = &Error{Code: CodeSelfCallRejected, Message: "cannot call yourself"}
	ErrTargetNotFound           = &Error{Code: CodeTargetNotFound, Message: "target is not online"}
	ErrAlreadyPaired            = &Error{Code: CodeAlreadyPaired, Message: "session is already in a call"}
	ErrStaleAnswer              = &Error{Code: CodeStaleAnswer, Message: "caller is no longer waiting for this answer"}
	ErrNotInCall                = &Error{Code: CodeNotInCall, Message: "not in a call"}
	ErrTranslationEngineFailure = &Error{Code: CodeTranslationEngineFailure}
	ErrTransportFailure         = &Error{Code: CodeTransportFailure}
	ErrMaxReconnectExceeded     = &Error{Code: CodeMaxReconnectExceeded, Message: "connection lost"}
)

// Errorf returns a fresh Error carrying code and a custom message.
func Errorf(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
