// Package port defines the boundary between the state machine driver and
// the transport that actually speaks DICOM Upper Layer PDUs on the wire
// (spec §4.B "Connection port"). The driver never touches net.Conn or PDU
// encoding directly; it only calls Port and reads from its Events channel.
//
// The shape mirrors caio-sobreiro-dicomnet/client/association.go's command
// set (Connect, send association RQ/release/abort, send a DIMSE request)
// but turns every one of them into a fire-and-forget call whose completion
// and every unsolicited arrival surface later as an assoc.Inbound on
// Events, instead of blocking the caller until a response PDU arrives.
package port

import (
	"github.com/dicomkit/assoc"
)

// Port is the abstract connection used by the driver. A concrete
// implementation (see the wireport package) owns the net.Conn, the PDU
// encoder/decoder, and a read-loop goroutine that turns inbound PDUs into
// assoc.Inbound values delivered on Events.
//
// Every Send* method is asynchronous: it enqueues the write and returns as
// soon as the write has been accepted by the port, not once the peer has
// responded. Completion and any peer response arrive later on Events.
type Port interface {
	// Connect dials the peer. It blocks until the TCP (and, if configured,
	// TLS) handshake completes or fails; it does not wait for any
	// DICOM-level response. Dial timeout is the port's own concern.
	Connect() error

	// SendAssociationRequest writes an A-ASSOCIATE-RQ built from params.
	SendAssociationRequest(params assoc.Params) error

	// SendRequest writes one DIMSE request. req is opaque to the port; see
	// queue.Request for its shape and wireport.Port.SendRequest (via
	// dimse.EncodeCommand) for how it becomes PDU bytes.
	SendRequest(req any) error

	// SendCancel writes a C-CANCEL-RQ for the outstanding operation
	// identified by messageID, using the presentation context negotiated
	// for sopClassUID. C-CANCEL has no response PDU of its own (PS3.7);
	// the peer simply stops emitting further Pending responses for that
	// operation.
	SendCancel(messageID uint16, sopClassUID string) error

	// SendAssociationRelease writes an A-RELEASE-RQ.
	SendAssociationRelease() error

	// SendAbort writes an A-ABORT with the given source/reason. It blocks
	// only until the write is dispatched, not until any acknowledgement;
	// the Abort state races this call's return against three other
	// completion sources (spec §4.D Abort "race of four").
	SendAbort(source assoc.AbortSource, reason assoc.AbortReason) error

	// Disconnect closes the underlying transport immediately, without
	// sending anything. Used once a state has already decided the
	// association is over (Completed's OnEnter, or Abort's fallback path).
	Disconnect() error

	// Events delivers every inbound PDU, translated to assoc.Inbound, plus
	// ConnectionClosed if the transport dies. Closed once Disconnect has
	// run and the read loop has exited; the driver must not send again
	// after observing this channel close.
	Events() <-chan assoc.Inbound
}
