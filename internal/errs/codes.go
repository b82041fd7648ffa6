package errs

import "errors"

// Code is a stable, transport-independent result code.
type Code string

// Result codes.
const (
	CodeOK                     Code = "ok"
	CodeInvalidIdentifier      Code = "invalid_identifier"
	CodeNotFound               Code = "not_found"
	CodeUnauthenticated        Code = "unauthenticated"
	CodeUnauthorized           Code = "unauthorized"
	CodeValidation             Code = "validation_error"
	CodeMismatchedConfirmation Code = "mismatched_confirmation"
	CodeWrongPassword          Code = "wrong_password"
	CodeDuplicateName          Code = "duplicate_name"
	CodeExternalService        Code = "external_service_error"
	CodeMissingToken           Code = "missing_token"
	CodeStorageUnavailable     Code = "storage_unavailable"
	CodeInvalidCredentials     Code = "invalid_credentials"
	CodeRateLimited            Code = "rate_limited"
	CodeInternal               Code = "internal_error"
)

var codeTable = []struct {
	err  error
	code Code
	msg  string
}{
	{ErrInvalidIdentifier, CodeInvalidIdentifier, "Invalid user id"},
	{ErrNotFound, CodeNotFound, "No such user"},
	{ErrUnauthenticated, CodeUnauthenticated, "Please log in"},
	{ErrUnauthorized, CodeUnauthorized, "There's nothing much to see here."},
	{ErrRequired, CodeValidation, "A required field is missing"},
	{ErrMismatchedConfirmation, CodeMismatchedConfirmation, "The password and its confirmation don't match"},
	{ErrWrongPassword, CodeWrongPassword, "Wrong password"},
	{ErrDuplicateName, CodeDuplicateName, "There is already a user with that name. Please pick another one."},
	{ErrMissingToken, CodeMissingToken, "Missing LastFM auth token"},
	{ErrExternalService, CodeExternalService, "Error while linking LastFM account"},
	{ErrStorageUnavailable, CodeStorageUnavailable, "Storage is unavailable, try again later"},
	{ErrInvalidCredentials, CodeInvalidCredentials, "Wrong username or password"},
	{ErrRateLimited, CodeRateLimited, "Too many failed attempts, try again later"},
}

// MessageError attaches a user-facing message to a sentinel.
type MessageError struct {
	Err error
	Msg string
}

func (e *MessageError) Error() string { return e.Msg }

func (e *MessageError) Unwrap() error { return e.Err }

// WithMessage wraps err so that MessageOf returns msg.
func WithMessage(err error, msg string) error {
	return &MessageError{Err: err, Msg: msg}
}

// CodeOf maps err onto its result code. nil maps to CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// MessageOf returns the user-facing text for err. Internal failures get a generic text.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var me *MessageError
	if errors.As(err, &me) {
		return me.Msg
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var xe *ExternalError
	if errors.As(err, &xe) && xe.Message != "" {
		return xe.Message
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.msg
		}
	}
	return "internal error"
}
