package syncjob

import "errors"

var (
	ErrJobNotFound   = errors.New("sync job not found")
	ErrJobNotActive  = errors.New("sync job is not active")
	ErrQueueNotFound = errors.New("queue not found")
	ErrInvalidJob    = errors.New("invalid sync job")
)

type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// SyncError attaches a retry class to an error raised while applying a job.
type SyncError struct {
	Class ErrorClass
	Err   error
}

func (e *SyncError) Error() string {
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable (network, timeout, unavailable, rate limited).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Class: ClassTransient, Err: err}
}

// Permanent marks err as not retryable (malformed document, validation rejection).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Class: ClassPermanent, Err: err}
}

// ClassOf reports the retry class of err. The outermost SyncError wins;
// unclassified errors (including deadline expiry) are transient.
func ClassOf(err error) ErrorClass {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransient
}

func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ClassPermanent
}
