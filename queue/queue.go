// Package queue holds the outstanding-request bookkeeping for the Sending
// state (spec §4.D "Sending"): the FIFO of not-yet-dispatched requests, the
// set of dispatched-but-not-yet-terminal requests, and the DIMSE command
// vocabulary that replaces caio-sobreiro-dicomnet/client's per-verb
// CFindRequest/CGetRequest/CStoreRequest/CMoveRequest types with one shape
// the driver can dispatch generically.
package queue

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dicomkit/assoc/types"
)

// Request is one DIMSE operation queued for a Sending association. Every
// teacher per-verb request (CFindRequest, CGetRequest, CStoreRequest,
// CMoveRequest, the bare echo call) maps onto this single shape; Command
// selects which DIMSE verb it is.
type Request struct {
	// ID correlates RequestCompleted events back to this Request. Assigned
	// by Enqueue if the caller leaves it empty.
	ID string

	Command     uint16
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Dataset     []byte

	// MoveDestination is set only for C-MOVE.
	MoveDestination string

	// OnResponse is invoked once per RequestCompleted event carrying this
	// request's ID, including intermediate Pending ones; the bool argument
	// is the event's Terminal flag.
	OnResponse func(status uint16, dataset []byte, terminal bool)
}

// NewEchoRequest builds a C-ECHO request (spec GLOSSARY "C-ECHO"),
// adapted from caio-sobreiro-dicomnet/client/echo.go's SendCEcho.
func NewEchoRequest(messageID uint16) Request {
	return Request{
		ID:          uuid.NewString(),
		Command:     types.CEchoRQ,
		SOPClassUID: verificationSOPClassUID,
		MessageID:   messageID,
	}
}

const verificationSOPClassUID = "1.2.840.10008.1.1"

// NewFindRequest builds a C-FIND request, adapted from
// caio-sobreiro-dicomnet/client/find.go's CFindRequest.
func NewFindRequest(sopClassUID string, messageID, priority uint16, dataset []byte) Request {
	if sopClassUID == "" {
		sopClassUID = studyRootFindSOPClassUID
	}
	return Request{
		ID:          uuid.NewString(),
		Command:     types.CFindRQ,
		SOPClassUID: sopClassUID,
		MessageID:   messageID,
		Priority:    priority,
		Dataset:     dataset,
	}
}

const studyRootFindSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.1"

// NewGetRequest builds a C-GET request, adapted from
// caio-sobreiro-dicomnet/client/get.go's CGetRequest.
func NewGetRequest(sopClassUID string, messageID, priority uint16, dataset []byte) Request {
	if sopClassUID == "" {
		sopClassUID = studyRootGetSOPClassUID
	}
	return Request{
		ID:          uuid.NewString(),
		Command:     types.CGetRQ,
		SOPClassUID: sopClassUID,
		MessageID:   messageID,
		Priority:    priority,
		Dataset:     dataset,
	}
}

const studyRootGetSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.3"

// NewMoveRequest builds a C-MOVE request, adapted from
// caio-sobreiro-dicomnet/client/move.go's CMoveRequest (folded here; the
// teacher repo under this name shipped C-MOVE support alongside C-GET).
func NewMoveRequest(sopClassUID, destination string, messageID, priority uint16, dataset []byte) Request {
	if sopClassUID == "" {
		sopClassUID = studyRootMoveSOPClassUID
	}
	return Request{
		ID:              uuid.NewString(),
		Command:         types.CMoveRQ,
		SOPClassUID:     sopClassUID,
		MessageID:       messageID,
		Priority:        priority,
		Dataset:         dataset,
		MoveDestination: destination,
	}
}

const studyRootMoveSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.2"

// NewStoreRequest builds a C-STORE request, adapted from
// caio-sobreiro-dicomnet/client/store.go's CStoreRequest.
func NewStoreRequest(sopClassUID, sopInstanceUID string, messageID, priority uint16, dataset []byte) Request {
	return Request{
		ID:          uuid.NewString(),
		Command:     types.CStoreRQ,
		SOPClassUID: sopClassUID,
		MessageID:   messageID,
		Priority:    priority,
		Dataset:     dataset,
	}
}

// IsTerminalStatus reports whether status ends a DIMSE exchange. Pending
// (0xFF00-0xFF01) is the only non-terminal status defined by PS3.7; every
// other value, including all of the 0xCxxx failure range, ends it (spec
// §4.D Sending "outstanding responses remain" predicate).
func IsTerminalStatus(status uint16) bool {
	return status != types.StatusPending && status != 0xFF01
}

// Queue is the thread-unsafe-by-contract FIFO of requests waiting to be
// dispatched, plus the set of dispatched requests still awaiting a
// terminal response. It is owned exclusively by the driver goroutine;
// the mutex exists only so Len/IsEmpty can be read from metrics or tests
// without racing the driver.
type Queue struct {
	mu          sync.Mutex
	pending     []Request
	outstanding map[string]Request
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{outstanding: make(map[string]Request)}
}

// Enqueue appends req to the pending FIFO, assigning an ID if empty.
// Enqueue never rejects a request regardless of driver state (spec Open
// Question decision: AddRequest never errors); callers that enqueue after
// Completed rely on Drain to reclaim the request instead.
func (q *Queue) Enqueue(req Request) Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	q.pending = append(q.pending, req)
	return req
}

// TryPop removes and returns the next pending request, moving it into the
// outstanding set. ok is false when the pending FIFO is empty.
func (q *Queue) TryPop() (req Request, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Request{}, false
	}
	req = q.pending[0]
	q.pending = q.pending[1:]
	q.outstanding[req.ID] = req
	return req, true
}

// Complete removes id from the outstanding set, reporting whether it was
// present there (a RequestCompleted for an unknown ID is a protocol
// violation the caller should log, not crash on).
func (q *Queue) Complete(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.outstanding[id]
	if ok {
		delete(q.outstanding, id)
	}
	return req, ok
}

// Lookup returns the outstanding request with the given id without
// removing it, for dispatching intermediate (non-terminal) responses.
func (q *Queue) Lookup(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.outstanding[id]
	return req, ok
}

// Len returns the number of requests still pending dispatch.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Outstanding returns the number of dispatched requests awaiting a
// terminal response. Sending leaves for Linger on SendQueueEmpty only when
// this is zero.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outstanding)
}

// IsEmpty reports whether both the pending FIFO and the outstanding set
// are empty.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.outstanding) == 0
}

// Drain removes every pending and outstanding request, returning them so
// the caller can fail them explicitly (spec Open Question decision 3: this
// is how requests enqueued after Completed, or abandoned by an Abort, get
// reclaimed instead of leaking).
func (q *Queue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]Request, 0, len(q.pending)+len(q.outstanding))
	all = append(all, q.pending...)
	for _, req := range q.outstanding {
		all = append(all, req)
	}
	q.pending = nil
	q.outstanding = make(map[string]Request)
	return all
}
