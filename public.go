package assoc

import "fmt"

// Kind identifies one of the seven state variants (spec §2 component D,
// §9 "model them as a single tagged variant over the seven state shapes").
type Kind int

const (
	KindIdle Kind = iota
	KindRequestAssociation
	KindSending
	KindLinger
	KindReleaseAssociation
	KindAbort
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "Idle"
	case KindRequestAssociation:
		return "RequestAssociation"
	case KindSending:
		return "Sending"
	case KindLinger:
		return "Linger"
	case KindReleaseAssociation:
		return "ReleaseAssociation"
	case KindAbort:
		return "Abort"
	case KindCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is the tagged union of notifications the facade publishes to
// subscribers (spec §4.F, §6 "Events").
type Event interface {
	event()
}

// AssociationAcceptedEvent fires when the peer accepts the association,
// even if an Abort follows immediately after (spec §8 boundary behavior).
type AssociationAcceptedEvent struct {
	Association Info
}

func (AssociationAcceptedEvent) event() {}

// AssociationRejectedEvent fires when the peer rejects the association.
type AssociationRejectedEvent struct {
	Result RejectResult
	Source RejectSource
	Reason RejectReason
}

func (AssociationRejectedEvent) event() {}

// AssociationReleasedEvent fires once the peer acknowledges our release.
type AssociationReleasedEvent struct{}

func (AssociationReleasedEvent) event() {}

// StateChangedEvent fires on every transition (spec §4.E step 6).
type StateChangedEvent struct {
	Old Kind
	New Kind
}

func (StateChangedEvent) event() {}

// OutcomeKind classifies how an association's lifetime ended (spec §6).
type OutcomeKind int

const (
	OutcomeReleasedCleanly OutcomeKind = iota
	OutcomeRejectedByPeer
	OutcomeAbortedByPeer
	OutcomeAbortedLocally
	OutcomeConnectionLost
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReleasedCleanly:
		return "ReleasedCleanly"
	case OutcomeRejectedByPeer:
		return "RejectedByPeer"
	case OutcomeAbortedByPeer:
		return "AbortedByPeer"
	case OutcomeAbortedLocally:
		return "AbortedLocally"
	case OutcomeConnectionLost:
		return "ConnectionLost"
	case OutcomeTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Outcome is the terminal classification of one send() call (spec §6).
type Outcome struct {
	Kind TimeoutKind // only meaningful when OutcomeKind == OutcomeTimedOut

	kind   OutcomeKind
	reject *AssociationRejectedEvent
	abort  *Abort
	cause  error
}

// OutcomeKind returns the outcome's classification.
func (o Outcome) OutcomeKind() OutcomeKind { return o.kind }

// Err returns a non-nil error for every outcome except ReleasedCleanly, so
// callers that only care about success/failure can use Outcome as a plain
// error via errors.As / the Error() method below.
func (o Outcome) Err() error {
	if o.kind == OutcomeReleasedCleanly {
		return nil
	}
	return &outcomeError{o}
}

type outcomeError struct{ o Outcome }

func (e *outcomeError) Error() string {
	switch e.o.kind {
	case OutcomeRejectedByPeer:
		return fmt.Sprintf("association rejected: source=%v reason=%v", e.o.reject.Source, e.o.reject.Reason)
	case OutcomeAbortedByPeer:
		return fmt.Sprintf("association aborted by peer: source=%v reason=%v", e.o.abort.Source, e.o.abort.Reason)
	case OutcomeAbortedLocally:
		return "association aborted locally"
	case OutcomeConnectionLost:
		if e.o.cause != nil {
			return fmt.Sprintf("connection lost: %v", e.o.cause)
		}
		return "connection lost"
	case OutcomeTimedOut:
		return fmt.Sprintf("timed out waiting for %v", e.o.Kind)
	default:
		return "association did not complete cleanly"
	}
}

func (e *outcomeError) Unwrap() error { return e.o.cause }

// ReleasedCleanly builds the success outcome.
func ReleasedCleanly() Outcome { return Outcome{kind: OutcomeReleasedCleanly} }

// RejectedByPeer builds the rejection outcome.
func RejectedByPeer(reject AssociationRejectedEvent) Outcome {
	return Outcome{kind: OutcomeRejectedByPeer, reject: &reject}
}

// AbortedByPeer builds the peer-initiated-abort outcome.
func AbortedByPeer(a Abort) Outcome {
	return Outcome{kind: OutcomeAbortedByPeer, abort: &a}
}

// AbortedLocally builds the user/local-timeout-initiated-abort outcome.
func AbortedLocally() Outcome { return Outcome{kind: OutcomeAbortedLocally} }

// ConnectionLost builds the transport-failure outcome.
func ConnectionLost(cause error) Outcome {
	return Outcome{kind: OutcomeConnectionLost, cause: cause}
}

// TimedOut builds the local-timeout outcome.
func TimedOut(kind TimeoutKind) Outcome {
	return Outcome{kind: OutcomeTimedOut, Kind: kind}
}
