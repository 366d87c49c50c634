package manager

// Error is a custom error type for lifecycle errors
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

// Define errors
const (
	// ErrDuplicateSession is returned when AddBot targets an id that is
	// already present, including ids in connecting or error state
	ErrDuplicateSession Error = "a session with this id already exists"
	// ErrSessionNotFound is returned when an operation targets an unknown id
	ErrSessionNotFound Error = "session not found"
	// ErrConfigurationMissing is returned when a restart can find no
	// credentials in the store or locally
	ErrConfigurationMissing Error = "no credentials available for restart"
	// ErrSessionTimeout is returned when login or logout exceeds its bound
	ErrSessionTimeout Error = "session operation timed out"
	// ErrSessionNotOnline is returned when a send is attempted on a session
	// that has no live handle
	ErrSessionNotOnline Error = "session is not online"

	// Constructor guards
	ErrNilConfig   Error = "config cannot be nil"
	ErrNilGateway  Error = "gateway cannot be nil"
	ErrNilStore    Error = "store cannot be nil"
	ErrNilRegistry Error = "registry cannot be nil"
)
