package state

import "fmt"

// ErrSendAlreadyInProgress is raised when send() is called while a
// previous cycle is still running. This is a caller bug, not a runtime
// condition the machine can recover from by itself (spec §7 "Programming
// errors (transition requested from invalid state): fail fast").
type ErrSendAlreadyInProgress struct {
	Current fmt.Stringer
}

func (e ErrSendAlreadyInProgress) Error() string {
	return fmt.Sprintf("send() called while already in %s", e.Current)
}

// rejectConcurrentSend panics with ErrSendAlreadyInProgress; called from
// the Handle of RequestAssociation, Sending, Linger and ReleaseAssociation
// on a SendEvent. Abort ignores a SendEvent instead.
func rejectConcurrentSend(current fmt.Stringer) {
	panic(ErrSendAlreadyInProgress{Current: current})
}
