// Package assoc holds the data model and event vocabulary shared by the
// connection port, request queue, state variants, and driver: association
// parameters and timeouts (spec §3), the negotiated association handle,
// inbound/public event types (spec §4.A), and the terminal Outcome taxonomy
// (spec §6, §7).
package assoc

import "time"

// Params are the immutable association parameters for one client instance
// (spec §3 "Association parameters").
type Params struct {
	CallingAETitle string
	CalledAETitle  string
	Host           string
	Port           int
	TLS            bool

	// AdditionalPresentationContexts are proposed alongside whatever
	// contexts a given request's SOP class requires.
	AdditionalPresentationContexts []PresentationContext

	// FallbackTextEncoding names the character set used to decode string
	// elements when a dataset carries no SpecificCharacterSet of its own.
	FallbackTextEncoding string

	AsyncOpsInvoked   uint16
	AsyncOpsPerformed uint16
}

// PresentationContext is a proposed or negotiated (abstract syntax,
// transfer syntax) pair (GLOSSARY "Presentation context").
type PresentationContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntax   string
	TransferSyntaxes []string // proposed, in preference order; set on request
	Accepted         bool
}

// Timeouts are the immutable per-client timeout configuration (spec §3, §6).
// AbortAck is intentionally not configurable; see SPEC_FULL.md Open Question 1.
type Timeouts struct {
	AssociationRequest time.Duration
	AssociationRelease time.Duration
	AssociationLinger  time.Duration
}

// AbortAckTimeout is the fixed duration the Abort state waits for any of
// its four race sources before giving up and completing anyway (spec §4.D,
// §8 property 5). It is not part of Timeouts: the source hard-codes it and
// the spec preserves that rather than exposing it as configuration.
const AbortAckTimeout = 100 * time.Millisecond

// DefaultTimeouts returns the defaults named in spec §6.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		AssociationRequest: 5000 * time.Millisecond,
		AssociationRelease: 10000 * time.Millisecond,
		AssociationLinger:  50 * time.Millisecond,
	}
}

// Info is the negotiated association handle (spec §3 "Association handle"),
// present only once RequestAssociation has received an AssociationAccept.
type Info struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32
	AcceptedContexts []PresentationContext
}
