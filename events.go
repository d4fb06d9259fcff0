package assoc

// RejectResult distinguishes a permanent rejection (retrying with the same
// parameters will fail again) from a transient one (spec §4.A "result").
type RejectResult byte

const (
	RejectResultUnknown   RejectResult = 0x00
	RejectResultPermanent RejectResult = 0x01
	RejectResultTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "Permanent"
	case RejectResultTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// RejectSource identifies who rejected an association request.
type RejectSource byte

const (
	RejectSourceUnknown                     RejectSource = 0x00
	RejectSourceServiceUser                 RejectSource = 0x01
	RejectSourceServiceProviderACSE         RejectSource = 0x02
	RejectSourceServiceProviderPresentation RejectSource = 0x03
)

// RejectReason enumerates the A-ASSOCIATE-RJ reasons relevant to the client.
type RejectReason byte

const (
	RejectReasonUnknown                        RejectReason = 0x00
	RejectReasonNoReasonGiven                  RejectReason = 0x01
	RejectReasonApplicationContextNotSupported RejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    RejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     RejectReason = 0x07
)

// AbortSource identifies who originated an A-ABORT.
type AbortSource byte

const (
	AbortSourceServiceUser     AbortSource = 0x00
	AbortSourceServiceProvider AbortSource = 0x02
)

// AbortReason enumerates A-ABORT reasons relevant to the client.
type AbortReason byte

const (
	AbortReasonNotSpecified         AbortReason = 0x00
	AbortReasonUnrecognizedPDU      AbortReason = 0x01
	AbortReasonUnexpectedPDU        AbortReason = 0x02
	AbortReasonUnrecognizedPDUParam AbortReason = 0x04
	AbortReasonUnexpectedPDUParam   AbortReason = 0x05
	AbortReasonInvalidPDUParam      AbortReason = 0x06
)

// TimeoutKind identifies which internal timer fired (spec §4.A "Internal
// triggers").
type TimeoutKind int

const (
	TimeoutRequestAssoc TimeoutKind = iota
	TimeoutReleaseAssoc
	TimeoutLinger
	TimeoutAbortAck
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutRequestAssoc:
		return "RequestAssoc"
	case TimeoutReleaseAssoc:
		return "ReleaseAssoc"
	case TimeoutLinger:
		return "Linger"
	case TimeoutAbortAck:
		return "AbortAck"
	default:
		return "Unknown"
	}
}

// Inbound is the tagged union of events the connection port delivers to the
// driver (spec §4.A "Inbound events"). Every concrete type below implements
// it via the unexported inbound marker method, so only this package can add
// new variants — callers outside the package switch exhaustively on the
// ones that exist today instead of guessing at future ones.
type Inbound interface {
	inbound()
}

// AssociationAccept carries the negotiated association handle after a peer
// accepts an A-ASSOCIATE-RQ.
type AssociationAccept struct {
	Association Info
}

func (AssociationAccept) inbound() {}

// AssociationReject carries the peer's rejection of an A-ASSOCIATE-RQ.
type AssociationReject struct {
	Result RejectResult
	Source RejectSource
	Reason RejectReason
}

func (AssociationReject) inbound() {}

// AssociationReleaseResponse signals the peer acknowledged our A-RELEASE-RQ.
type AssociationReleaseResponse struct{}

func (AssociationReleaseResponse) inbound() {}

// Abort signals an inbound A-ABORT from the peer.
type Abort struct {
	Source AbortSource
	Reason AbortReason
}

func (Abort) inbound() {}

// ConnectionClosed signals the transport closed, with the triggering error
// if any (nil for a clean close initiated by us).
type ConnectionClosed struct {
	Err error
}

func (ConnectionClosed) inbound() {}

// RequestCompleted carries one DIMSE response for a request previously
// dispatched via SendRequest. Intermediate (Pending) responses use this
// event too; only the final one removes the request from the outstanding
// count (spec §4.D Sending, "outstanding responses remain" predicate).
type RequestCompleted struct {
	RequestID string
	Status    uint16
	MessageID uint16
	Dataset   []byte
	Terminal  bool
	Err       error
}

func (RequestCompleted) inbound() {}

// SendQueueEmpty signals the port has flushed every SendRequest/SendAssociationRelease/etc.
// command queued so far onto the wire.
type SendQueueEmpty struct{}

func (SendQueueEmpty) inbound() {}

// Internal is the tagged union of state-local triggers (spec §4.A "Internal
// triggers"): timer firings and the asynchronous completion of a command
// a state issued in its OnEnter.
type Internal interface {
	internal()
}

// TimeoutFired reports that a timer armed by the current state has expired.
type TimeoutFired struct {
	Kind TimeoutKind
}

func (TimeoutFired) internal() {}

// AbortSendAcked reports that the Abort state's send_abort command finished
// writing to the wire (spec §4.D Abort "(a) send_abort(...) completion").
type AbortSendAcked struct{}

func (AbortSendAcked) internal() {}
