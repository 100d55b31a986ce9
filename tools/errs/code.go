package errs

// Code ranges per fault class:
//   1xxx transport, 2xxx protocol, 3xxx persistence, 4xxx lookup, 5xxx presence.
const (
	CodeTransportClosed  = 1000
	CodeTransportTimeout = 1001

	CodeProtocolMalformed = 2000
	CodeAuthRequired      = 2001
	CodeAuthFailed        = 2002
	CodeBadContext        = 2003

	CodeStoreUnavailable = 3000
	CodeStoreRejected    = 3001

	CodeProfileNotFound = 4000

	CodePresenceUnderflow = 5000
)

var (
	ErrTransportClosed  = NewCodeError(CodeTransportClosed, "transport closed")
	ErrTransportTimeout = NewCodeError(CodeTransportTimeout, "transport timeout")

	ErrProtocolMalformed = NewCodeError(CodeProtocolMalformed, "malformed frame")
	ErrAuthRequired      = NewCodeError(CodeAuthRequired, "auth required")
	ErrAuthFailed        = NewCodeError(CodeAuthFailed, "auth failed")
	ErrBadContext        = NewCodeError(CodeBadContext, "bad conversation context")

	ErrStoreUnavailable = NewCodeError(CodeStoreUnavailable, "message store unavailable")
	ErrStoreRejected    = NewCodeError(CodeStoreRejected, "message store rejected write")

	ErrProfileNotFound = NewCodeError(CodeProfileNotFound, "profile not found")

	ErrPresenceUnderflow = NewCodeError(CodePresenceUnderflow, "presence refcount underflow")
)
