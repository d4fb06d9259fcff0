// Package testscp is a minimal loopback DICOM SCP used only by this
// module's own tests to give wireport.Port a real peer to negotiate an
// association and exchange DIMSE messages with. It is not part of the
// delivered client association state machine (the spec's client-only scope
// excludes server-side behavior as a feature); it exists purely as test
// infrastructure, speaking just enough A-ASSOCIATE-AC and DIMSE response
// traffic to exercise the client, built directly on the dimse package's
// wire codec (dimse.EncodeCommand/DecodeCommand/SendDIMSEMessage) rather
// than a full server stack.
package testscp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/dicomkit/assoc/dimse"
	"github.com/dicomkit/assoc/types"
)

const (
	defaultMaxPDULength       = 16384
	implementationClassUID    = "1.2.840.10008.1.2.1"
	implementationVersionName = "TESTSCP-1"
)

// SCP is a loopback test double: one AE title, a handful of canned
// service behaviors, listening on 127.0.0.1:0.
type SCP struct {
	AETitle  string
	listener net.Listener
	wg       sync.WaitGroup
	reg      *registry
}

// Option configures behavior for specific DIMSE verbs during a test.
type Option func(*registry)

// WithFindResults registers canned C-FIND datasets streamed as pending
// responses ahead of the final success.
func WithFindResults(datasets [][]byte) Option {
	return func(r *registry) {
		r.findDatasets = datasets
	}
}

// WithStoreStatus overrides the status the C-STORE handler returns
// (default types.StatusSuccess); used to test the client's handling of a
// failure response.
func WithStoreStatus(status uint16) Option {
	return func(r *registry) {
		r.storeStatus = status
	}
}

// New starts an SCP listening on 127.0.0.1:0 and returns once it is
// accepting connections.
func New(aeTitle string, opts ...Option) (*SCP, error) {
	reg := &registry{storeStatus: types.StatusSuccess}
	for _, opt := range opts {
		opt(reg)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &SCP{AETitle: aeTitle, listener: listener, reg: reg}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *SCP) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			serveConn(conn, s.reg)
		}()
	}
}

// Addr returns the host and port the SCP is listening on.
func (s *SCP) Addr() (string, int) {
	tcpAddr := s.listener.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

// Close stops accepting connections and waits for in-flight handlers to
// return.
func (s *SCP) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// registry holds the per-test canned behavior dispatch reads from.
type registry struct {
	mu           sync.Mutex
	findDatasets [][]byte
	storeStatus  uint16
}

// serveConn negotiates one association then runs the DIMSE loop until
// release, abort, or the peer disconnects.
func serveConn(nc net.Conn, reg *registry) {
	defer nc.Close()

	if err := negotiateAssociation(nc); err != nil {
		return
	}
	runDIMSELoop(nc, reg)
}

func negotiateAssociation(nc net.Conn) error {
	header := make([]byte, 6)
	if _, err := io.ReadFull(nc, header); err != nil {
		return err
	}
	if header[0] != types.TypeAssociateRQ {
		return fmt.Errorf("testscp: expected A-ASSOCIATE-RQ, got PDU type 0x%02x", header[0])
	}

	length := binary.BigEndian.Uint32(header[2:6])
	data := make([]byte, length)
	if _, err := io.ReadFull(nc, data); err != nil {
		return err
	}
	if len(data) < 68 {
		return fmt.Errorf("testscp: association request too short")
	}

	calledAE := trimPadded(data[4:20])
	callingAE := trimPadded(data[20:36])

	var contexts []presCtx
	maxPDULength := uint32(defaultMaxPDULength)

	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			break
		}
		item := data[offset+4 : itemEnd]

		switch itemType {
		case 0x20:
			if ctx, ok := parsePresentationContext(item); ok {
				contexts = append(contexts, ctx)
			}
		case 0x50:
			if v, ok := parseMaxPDULength(item); ok {
				maxPDULength = v
			}
		}
		offset = itemEnd
	}

	_, err := nc.Write(buildAssociateAC(calledAE, callingAE, contexts, maxPDULength))
	return err
}

// presCtx is one negotiated (or rejected) presentation context from an
// A-ASSOCIATE-RQ.
type presCtx struct {
	id             byte
	transferSyntax string
	accepted       bool
}

func parsePresentationContext(item []byte) (presCtx, bool) {
	if len(item) < 4 {
		return presCtx{}, false
	}
	id := item[0]

	var abstractSyntax string
	var proposed []string

	offset := 4
	for offset+4 <= len(item) {
		subType := item[offset]
		subLen := binary.BigEndian.Uint16(item[offset+2 : offset+4])
		valStart := offset + 4
		valEnd := valStart + int(subLen)
		if valEnd > len(item) {
			break
		}
		switch subType {
		case 0x30:
			abstractSyntax = trimPadded(item[valStart:valEnd])
		case 0x40:
			proposed = append(proposed, trimPadded(item[valStart:valEnd]))
		}
		offset = valEnd
	}
	if abstractSyntax == "" {
		return presCtx{}, false
	}

	ts := ""
	if supportsAbstractSyntax(abstractSyntax) {
		for _, cand := range proposed {
			if cand == types.ExplicitVRLittleEndian || cand == types.ImplicitVRLittleEndian {
				ts = cand
				break
			}
		}
	}
	return presCtx{id: id, transferSyntax: ts, accepted: ts != ""}, true
}

// supportsAbstractSyntax mirrors wireport's defaultAbstractSyntaxes: the
// verification and study-root find/get/move SOP classes, plus any storage
// SOP class for C-STORE.
func supportsAbstractSyntax(uid string) bool {
	switch uid {
	case types.VerificationSOPClass,
		types.StudyRootQueryRetrieveInformationModelFind,
		types.StudyRootQueryRetrieveInformationModelMove,
		types.StudyRootQueryRetrieveInformationModelGet:
		return true
	}
	return types.IsStorageSOPClass(uid)
}

func parseMaxPDULength(item []byte) (uint32, bool) {
	offset := 0
	for offset+4 <= len(item) {
		subType := item[offset]
		subLen := binary.BigEndian.Uint16(item[offset+2 : offset+4])
		valStart := offset + 4
		valEnd := valStart + int(subLen)
		if valEnd > len(item) {
			break
		}
		if subType == 0x51 && subLen == 4 {
			return binary.BigEndian.Uint32(item[valStart:valEnd]), true
		}
		offset = valEnd
	}
	return 0, false
}

func trimPadded(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func padTitle(title string) []byte {
	out := make([]byte, 16)
	copy(out, title)
	for i := len(title); i < 16; i++ {
		out[i] = ' '
	}
	return out
}

// buildAssociateAC builds an A-ASSOCIATE-AC echoing back the requested AE
// titles and every accepted presentation context. Rejected contexts are
// left out entirely, matching the compatibility behavior DICOM
// implementations commonly rely on (PS3.8 9.3.3.3 technically allows
// including them with no transfer syntax sub-item, but omitting them
// outright is simpler and just as valid for a test double).
func buildAssociateAC(calledAE, callingAE string, contexts []presCtx, maxPDULength uint32) []byte {
	fixed := make([]byte, 68)
	binary.BigEndian.PutUint16(fixed[0:2], 0x0001)
	copy(fixed[4:20], padTitle(calledAE))
	copy(fixed[20:36], padTitle(callingAE))

	var items []byte
	items = append(items, appContextItem()...)
	for _, ctx := range contexts {
		if ctx.accepted {
			items = append(items, presContextACItem(ctx)...)
		}
	}
	items = append(items, userInfoItem(maxPDULength)...)

	body := append(fixed, items...)
	header := make([]byte, 6)
	header[0] = types.TypeAssociateAC
	binary.BigEndian.PutUint32(header[2:6], uint32(len(body)))
	return append(header, body...)
}

func appContextItem() []byte {
	uid := types.ApplicationContextUID
	item := []byte{0x10, 0x00, 0x00, byte(len(uid))}
	return append(item, []byte(uid)...)
}

func presContextACItem(ctx presCtx) []byte {
	body := []byte{ctx.id, 0x00, 0x00, 0x00}
	body = append(body, 0x40, 0x00, 0x00, byte(len(ctx.transferSyntax)))
	body = append(body, []byte(ctx.transferSyntax)...)

	item := make([]byte, 4)
	item[0] = 0x21
	binary.BigEndian.PutUint16(item[2:4], uint16(len(body)))
	return append(item, body...)
}

func userInfoItem(maxPDULength uint32) []byte {
	maxSub := make([]byte, 8)
	maxSub[0] = 0x51
	binary.BigEndian.PutUint16(maxSub[2:4], 4)
	binary.BigEndian.PutUint32(maxSub[4:8], maxPDULength)

	implClassSub := []byte{0x52, 0x00, 0x00, byte(len(implementationClassUID))}
	implClassSub = append(implClassSub, []byte(implementationClassUID)...)

	implVersionSub := []byte{0x55, 0x00, 0x00, byte(len(implementationVersionName))}
	implVersionSub = append(implVersionSub, []byte(implementationVersionName)...)

	body := append(maxSub, implClassSub...)
	body = append(body, implVersionSub...)

	item := make([]byte, 4)
	item[0] = 0x50
	binary.BigEndian.PutUint16(item[2:4], uint16(len(body)))
	return append(item, body...)
}

// dimsePDV accumulates fragments of one command or dataset PDV spread
// across multiple P-DATA-TF PDUs, mirroring wireport.Port's own
// accumulation so both sides of these tests agree on PDV framing.
type dimsePDV struct {
	command []byte
	dataset []byte
}

func runDIMSELoop(nc net.Conn, reg *registry) {
	acc := make(map[byte]*dimsePDV)

	for {
		header := make([]byte, 6)
		if _, err := io.ReadFull(nc, header); err != nil {
			return
		}

		pduType := header[0]
		length := binary.BigEndian.Uint32(header[2:6])
		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(nc, data); err != nil {
				return
			}
		}

		switch pduType {
		case types.TypePDataTF:
			handlePDataTF(nc, data, acc, reg)
		case types.TypeReleaseRQ:
			writeReleaseRP(nc)
			return
		case types.TypeAbort:
			return
		}
	}
}

func handlePDataTF(nc net.Conn, data []byte, acc map[byte]*dimsePDV, reg *registry) {
	offset := 0
	for offset+6 <= len(data) {
		pdvLength := binary.BigEndian.Uint32(data[offset : offset+4])
		presContextID := data[offset+4]
		msgCtrl := data[offset+5]
		pdvData := data[offset+6 : offset+4+int(pdvLength)]

		isCommand := msgCtrl&0x01 != 0
		isLast := msgCtrl&0x02 != 0

		a, ok := acc[presContextID]
		if !ok {
			a = &dimsePDV{}
			acc[presContextID] = a
		}
		if isCommand {
			a.command = append(a.command, pdvData...)
		} else {
			a.dataset = append(a.dataset, pdvData...)
		}

		commandOnly := false
		if isCommand && isLast {
			if msg, err := dimse.DecodeCommand(a.command); err == nil && msg.CommandDataSetType == 0x0101 {
				commandOnly = true
			}
		}

		done := (isLast && !isCommand) || commandOnly
		if done {
			delete(acc, presContextID)
			dispatch(nc, presContextID, a, reg)
		}

		offset += 4 + int(pdvLength)
	}
}

// dispatch decodes one complete command (plus any dataset) and writes the
// canned response for its DIMSE verb. C-CANCEL gets no response of its own
// (PS3.7); this test double does not act on it.
func dispatch(nc net.Conn, presContextID byte, a *dimsePDV, reg *registry) {
	msg, err := dimse.DecodeCommand(a.command)
	if err != nil {
		return
	}

	switch msg.CommandField {
	case types.CEchoRQ:
		respond(nc, presContextID, &types.Message{
			CommandField:              types.CEchoRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       types.VerificationSOPClass,
			CommandDataSetType:        0x0101,
			Status:                    types.StatusSuccess,
		}, nil)

	case types.CFindRQ:
		reg.mu.Lock()
		results := reg.findDatasets
		reg.mu.Unlock()

		for _, ds := range results {
			respond(nc, presContextID, &types.Message{
				CommandField:              types.CFindRSP,
				MessageIDBeingRespondedTo: msg.MessageID,
				AffectedSOPClassUID:       msg.AffectedSOPClassUID,
				CommandDataSetType:        0x0000,
				Status:                    types.StatusPending,
			}, ds)
		}
		respond(nc, presContextID, &types.Message{
			CommandField:              types.CFindRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        0x0101,
			Status:                    types.StatusSuccess,
		}, nil)

	case types.CStoreRQ:
		reg.mu.Lock()
		status := reg.storeStatus
		reg.mu.Unlock()
		respond(nc, presContextID, &types.Message{
			CommandField:              types.CStoreRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPInstanceUID,
			CommandDataSetType:        0x0101,
			Status:                    status,
		}, nil)

	case types.CGetRQ:
		respond(nc, presContextID, subOpResponse(types.CGetRSP, msg), nil)

	case types.CMoveRQ:
		respond(nc, presContextID, subOpResponse(types.CMoveRSP, msg), nil)
	}
}

// subOpResponse builds a C-GET/C-MOVE success response reporting zero
// sub-operations; a test that needs a real sub-store would extend this
// registry with a CStore push, not exercised by this test double today.
func subOpResponse(command uint16, req *types.Message) *types.Message {
	zero := uint16(0)
	return &types.Message{
		CommandField:                   command,
		MessageIDBeingRespondedTo:      req.MessageID,
		AffectedSOPClassUID:            req.AffectedSOPClassUID,
		CommandDataSetType:             0x0101,
		Status:                         types.StatusSuccess,
		NumberOfCompletedSuboperations: &zero,
		NumberOfFailedSuboperations:    &zero,
		NumberOfWarningSuboperations:   &zero,
		NumberOfRemainingSuboperations: &zero,
	}
}

func respond(nc net.Conn, presContextID byte, msg *types.Message, dataset []byte) {
	commandData, err := dimse.EncodeCommand(msg)
	if err != nil {
		return
	}
	_ = dimse.SendDIMSEMessage(nc, presContextID, defaultMaxPDULength, commandData, dataset)
}

func writeReleaseRP(nc net.Conn) {
	header := make([]byte, 6)
	header[0] = types.TypeReleaseRP
	binary.BigEndian.PutUint32(header[2:6], 4)
	_, _ = nc.Write(append(header, make([]byte, 4)...))
}
