package endpoint

// Close codes sent when an endpoint rejects or terminates a connection.
// Values sit in the 4000-4999 application range so clients can branch on
// the cause; 1001 is the standard going-away code used by graceful
// shutdown.
const (
	CloseTooManyConnections = 4001
	CloseInvalidKey         = 4002
	CloseMissingParam       = 4003
	CloseAuthFailed         = 4004
	CloseIdleTimeout        = 4005
	CloseRateLimited        = 4006
	CloseInternalError      = 4011

	CloseGoingAway = 1001
)

// AdmissionError reports why a connection was rejected during admission.
// The transport has already been closed with Code by the time the error
// is returned.
type AdmissionError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	return e.Reason
}
