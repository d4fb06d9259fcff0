// Package wireport is the concrete port.Port implementation: it owns a
// net.Conn, encodes and decodes DICOM Upper Layer PDUs, and turns
// unsolicited arrivals into assoc.Inbound values on its Events channel.
//
// The association negotiation and PDU framing are adapted from
// caio-sobreiro-dicomnet/client/association.go's sendAssociateRQ,
// addPresentationContext, addUserInformation, receiveAssociateAC,
// sendReleaseRQ, and receiveReleaseRP — generalized from that file's
// hard-coded presentation context list to assoc.Params.
// AdditionalPresentationContexts, and turned from blocking request/response
// calls into a background read loop that posts every arrival onto Events
// instead of returning it to a waiting caller.
package wireport

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/dimse"
	wireerrors "github.com/dicomkit/assoc/errors"
	"github.com/dicomkit/assoc/queue"
	"github.com/dicomkit/assoc/types"
)

const implementationClassUID = "1.2.840.10008.1.2.1"
const implementationVersionName = "DICOMKIT-ASSOC-1"

// defaultAbstractSyntaxes mirrors the SOP classes
// caio-sobreiro-dicomnet/client/association.go proposed by default,
// extended with C-GET and C-MOVE so every verb queue.NewXRequest builds
// has a home.
var defaultAbstractSyntaxes = []string{
	"1.2.840.10008.5.1.4.1.1.2",   // CT Image Storage
	"1.2.840.10008.5.1.4.1.1.4",   // MR Image Storage
	"1.2.840.10008.5.1.4.1.1.7",   // Secondary Capture
	"1.2.840.10008.1.1",           // Verification (C-ECHO)
	"1.2.840.10008.5.1.4.1.2.2.1", // Study Root Q/R - FIND
	"1.2.840.10008.5.1.4.1.2.2.2", // Study Root Q/R - MOVE
	"1.2.840.10008.5.1.4.1.2.2.3", // Study Root Q/R - GET
}

var defaultTransferSyntaxes = []string{
	"1.2.840.10008.1.2.1", // Explicit VR Little Endian
	"1.2.840.10008.1.2",   // Implicit VR Little Endian
}

// Config configures one Port instance.
type Config struct {
	MaxPDULength uint32 // default 16384
	DialTimeout  time.Duration
	Logger       *zap.Logger
}

// Port is wireport's port.Port implementation for one TCP (optionally
// TLS) connection to a single peer.
type Port struct {
	addr         string
	tlsConfig    *tls.Config
	maxPDULength uint32
	dialTimeout  time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	conn net.Conn

	presCtxs map[byte]*assoc.PresentationContext

	pdvMu        sync.Mutex
	pdvByContext map[byte]*dimsePDV

	requestsMu    sync.Mutex
	requestsByMsg map[uint16]string // DIMSE MessageID -> queue.Request.ID

	events    chan assoc.Inbound
	closeOnce sync.Once
}

// New builds a wireport.Port that will dial host:port when Connect is
// called. tlsConfig may be nil for a plain TCP connection.
func New(host string, port int, tlsConfig *tls.Config, cfg Config) *Port {
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = 16384
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Port{
		addr:          net.JoinHostPort(host, strconv.Itoa(port)),
		tlsConfig:     tlsConfig,
		maxPDULength:  cfg.MaxPDULength,
		dialTimeout:   cfg.DialTimeout,
		logger:        cfg.Logger,
		presCtxs:      make(map[byte]*assoc.PresentationContext),
		pdvByContext:  make(map[byte]*dimsePDV),
		requestsByMsg: make(map[uint16]string),
		events:        make(chan assoc.Inbound, 32),
	}
}

func (p *Port) Events() <-chan assoc.Inbound { return p.events }

// Connect dials the peer over TCP, optionally upgrading to TLS.
func (p *Port) Connect() error {
	dialer := &net.Dialer{Timeout: p.dialTimeout}

	var conn net.Conn
	var err error
	if p.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", p.addr, p.tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", p.addr)
	}
	if err != nil {
		return wireerrors.Annotate(err, "dial "+p.addr)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(conn)
	return nil
}

// SendAssociationRequest writes an A-ASSOCIATE-RQ built from params. The
// proposed presentation contexts are the default set plus
// params.AdditionalPresentationContexts, each proposing
// defaultTransferSyntaxes (or the context's own TransferSyntaxes, if set)
// in preference order.
func (p *Port) SendAssociationRequest(params assoc.Params) error {
	conn := p.connOrNil()
	if conn == nil {
		return fmt.Errorf("wireport: not connected")
	}

	buf := make([]byte, 0, 1024)
	buf = append(buf, 0x00, 0x01) // protocol version
	buf = append(buf, 0x00, 0x00) // reserved
	buf = append(buf, padAETitle(params.CalledAETitle)...)
	buf = append(buf, padAETitle(params.CallingAETitle)...)
	buf = append(buf, make([]byte, 32)...) // reserved

	buf = append(buf, 0x10, 0x00, 0x00, 0x15)
	buf = append(buf, []byte("1.2.840.10008.3.1.1.1")...)

	contexts := p.proposedContexts(params)
	for _, ctx := range contexts {
		buf = p.addPresentationContext(buf, ctx)
	}

	buf = addUserInformation(buf, p.maxPDULength)

	header := make([]byte, 6)
	header[0] = types.TypeAssociateRQ
	binary.BigEndian.PutUint32(header[2:6], uint32(len(buf)))

	return writeAll(conn, header, buf)
}

// proposedContexts merges the defaults with the caller's additions,
// assigning sequential odd IDs (PS3.8 requires odd-numbered context IDs).
func (p *Port) proposedContexts(params assoc.Params) []assoc.PresentationContext {
	var out []assoc.PresentationContext
	id := byte(1)
	for _, syntax := range defaultAbstractSyntaxes {
		out = append(out, assoc.PresentationContext{ID: id, AbstractSyntax: syntax, TransferSyntaxes: defaultTransferSyntaxes})
		id += 2
	}
	for _, extra := range params.AdditionalPresentationContexts {
		ts := extra.TransferSyntaxes
		if len(ts) == 0 {
			ts = defaultTransferSyntaxes
		}
		out = append(out, assoc.PresentationContext{ID: id, AbstractSyntax: extra.AbstractSyntax, TransferSyntaxes: ts})
		id += 2
	}
	return out
}

func (p *Port) addPresentationContext(buf []byte, ctx assoc.PresentationContext) []byte {
	start := len(buf)

	buf = append(buf, 0x20, 0x00, 0x00, 0x00)
	buf = append(buf, ctx.ID, 0x00, 0x00, 0x00)

	buf = append(buf, 0x30, 0x00, 0x00, byte(len(ctx.AbstractSyntax)))
	buf = append(buf, []byte(ctx.AbstractSyntax)...)

	for _, ts := range ctx.TransferSyntaxes {
		buf = append(buf, 0x40, 0x00, 0x00, byte(len(ts)))
		buf = append(buf, []byte(ts)...)
	}

	length := len(buf) - start - 4
	binary.BigEndian.PutUint16(buf[start+2:start+4], uint16(length))

	p.presCtxs[ctx.ID] = &assoc.PresentationContext{ID: ctx.ID, AbstractSyntax: ctx.AbstractSyntax}
	return buf
}

func addUserInformation(buf []byte, maxPDULength uint32) []byte {
	start := len(buf)

	buf = append(buf, 0x50, 0x00, 0x00, 0x00)

	buf = append(buf, 0x51, 0x00, 0x00, 0x04)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, maxPDULength)
	buf = append(buf, lenBytes...)

	buf = append(buf, 0x52, 0x00, 0x00, byte(len(implementationClassUID)))
	buf = append(buf, []byte(implementationClassUID)...)

	buf = append(buf, 0x55, 0x00, 0x00, byte(len(implementationVersionName)))
	buf = append(buf, []byte(implementationVersionName)...)

	length := len(buf) - start - 4
	binary.BigEndian.PutUint16(buf[start+2:start+4], uint16(length))
	return buf
}

func padAETitle(title string) []byte {
	out := make([]byte, 16)
	copy(out, title)
	for i := len(title); i < 16; i++ {
		out[i] = ' '
	}
	return out
}

// SendRequest writes one DIMSE request as a command P-DATA-TF, followed
// by its dataset if present.
func (p *Port) SendRequest(req any) error {
	r, ok := req.(queue.Request)
	if !ok {
		return fmt.Errorf("wireport: unsupported request type %T", req)
	}

	conn := p.connOrNil()
	if conn == nil {
		return fmt.Errorf("wireport: not connected")
	}

	presContextID, err := p.contextFor(r.SOPClassUID)
	if err != nil {
		return wireerrors.Trace(err)
	}

	msg := &types.Message{
		CommandField:        r.Command,
		MessageID:           r.MessageID,
		Priority:            r.Priority,
		AffectedSOPClassUID: r.SOPClassUID,
		MoveDestination:     r.MoveDestination,
	}
	if len(r.Dataset) > 0 {
		msg.CommandDataSetType = 0x0000
	} else {
		msg.CommandDataSetType = 0x0101
	}

	commandData, err := dimse.EncodeCommand(msg)
	if err != nil {
		return wireerrors.Annotate(err, "encode command")
	}

	p.requestsMu.Lock()
	p.requestsByMsg[r.MessageID] = r.ID
	p.requestsMu.Unlock()

	return dimse.SendDIMSEMessage(conn, presContextID, p.maxPDULength, commandData, r.Dataset)
}

func (p *Port) contextFor(abstractSyntax string) (byte, error) {
	for id, ctx := range p.presCtxs {
		if ctx.AbstractSyntax == abstractSyntax && ctx.Accepted {
			return id, nil
		}
	}
	return 0, wireerrors.Annotate(wireerrors.ErrNoPresentationCtx, abstractSyntax)
}

// SendCancel writes a C-CANCEL-RQ for messageID, adapted from
// caio-sobreiro-dicomnet/client/cancel.go's SendCCancel. C-CANCEL carries
// no dataset and gets no response PDU of its own.
func (p *Port) SendCancel(messageID uint16, sopClassUID string) error {
	conn := p.connOrNil()
	if conn == nil {
		return fmt.Errorf("wireport: not connected")
	}

	presContextID, err := p.contextFor(sopClassUID)
	if err != nil {
		return wireerrors.Trace(err)
	}

	msg := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
		CommandDataSetType:        0x0101,
	}

	commandData, err := dimse.EncodeCommand(msg)
	if err != nil {
		return wireerrors.Annotate(err, "encode cancel command")
	}

	return dimse.SendDIMSEMessage(conn, presContextID, p.maxPDULength, commandData, nil)
}

// SendAssociationRelease writes an A-RELEASE-RQ PDU.
func (p *Port) SendAssociationRelease() error {
	conn := p.connOrNil()
	if conn == nil {
		return fmt.Errorf("wireport: not connected")
	}
	header := make([]byte, 6)
	header[0] = types.TypeReleaseRQ
	binary.BigEndian.PutUint32(header[2:6], 4)
	return writeAll(conn, header, make([]byte, 4))
}

// SendAbort writes an A-ABORT PDU.
func (p *Port) SendAbort(source assoc.AbortSource, reason assoc.AbortReason) error {
	conn := p.connOrNil()
	if conn == nil {
		return nil
	}
	header := make([]byte, 6)
	header[0] = types.TypeAbort
	binary.BigEndian.PutUint32(header[2:6], 4)
	body := []byte{0x00, 0x00, byte(source), byte(reason)}
	return writeAll(conn, header, body)
}

// Disconnect closes the underlying connection. Idempotent.
func (p *Port) Disconnect() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (p *Port) connOrNil() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func writeAll(conn net.Conn, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := conn.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// readLoop is the single goroutine consuming inbound PDUs. It is the sole
// writer to p.events, so ordering from the wire is preserved exactly
// (spec §4.B "events are delivered in the order received from the wire").
func (p *Port) readLoop(conn net.Conn) {
	defer p.closeEvents(nil)

	for {
		header := make([]byte, 6)
		if _, err := io.ReadFull(conn, header); err != nil {
			p.closeEvents(err)
			return
		}

		pduType := header[0]
		length := binary.BigEndian.Uint32(header[2:6])

		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				p.closeEvents(err)
				return
			}
		}

		switch pduType {
		case types.TypeAssociateAC:
			p.handleAssociateAC(data)

		case types.TypeAssociateRJ:
			p.events <- assoc.AssociationReject{
				Result: assoc.RejectResult(resultOrZero(data, 1)),
				Source: assoc.RejectSource(resultOrZero(data, 2)),
				Reason: assoc.RejectReason(resultOrZero(data, 3)),
			}

		case types.TypeAbort:
			p.events <- assoc.Abort{
				Source: assoc.AbortSource(resultOrZero(data, 2)),
				Reason: assoc.AbortReason(resultOrZero(data, 3)),
			}

		case types.TypeReleaseRP:
			p.events <- assoc.AssociationReleaseResponse{}

		case types.TypePDataTF:
			p.handlePDataTF(data)

		default:
			p.logger.Warn("unrecognized PDU type", zap.Uint8("pdu_type", pduType))
		}
	}
}

func resultOrZero(data []byte, idx int) byte {
	if idx < len(data) {
		return data[idx]
	}
	return 0
}

func (p *Port) handleAssociateAC(data []byte) {
	const fixedHeaderLen = 68 // protocol version + reserved + AE titles + reserved

	offset := fixedHeaderLen
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			break
		}

		if itemType == 0x21 && itemLength >= 4 { // Presentation Context result item
			contextID := data[offset+4]
			result := data[offset+7]
			transferSyntax := ""

			sub := offset + 8
			for sub+4 <= itemEnd {
				subType := data[sub]
				subLen := binary.BigEndian.Uint16(data[sub+2 : sub+4])
				subEnd := sub + 4 + int(subLen)
				if subEnd > itemEnd {
					break
				}
				if subType == 0x40 && subLen > 0 {
					transferSyntax = strings.TrimRight(string(data[sub+4:subEnd]), "\x00 ")
				}
				sub = subEnd
			}

			if ctx, ok := p.presCtxs[contextID]; ok {
				ctx.Accepted = result == 0
				if ctx.Accepted {
					ctx.TransferSyntax = transferSyntax
				}
			}
		}

		offset = itemEnd
	}

	var accepted []assoc.PresentationContext
	for _, ctx := range p.presCtxs {
		if ctx.Accepted {
			accepted = append(accepted, *ctx)
		}
	}

	p.events <- assoc.AssociationAccept{
		Association: assoc.Info{
			AcceptedContexts: accepted,
			MaxPDULength:     p.maxPDULength,
		},
	}
}

// dimsePDV accumulates fragments of one command or dataset PDV spread
// across multiple P-DATA-TF PDUs (spec §4.B's port hides this entirely
// from the driver; the driver only ever sees one RequestCompleted per
// terminal DIMSE response).
type dimsePDV struct {
	command []byte
	dataset []byte
}

func (p *Port) handlePDataTF(data []byte) {
	offset := 0
	for offset+6 <= len(data) {
		pdvLength := binary.BigEndian.Uint32(data[offset : offset+4])
		presContextID := data[offset+4]
		msgCtrl := data[offset+5]
		pdvData := data[offset+6 : offset+4+int(pdvLength)]

		isCommand := msgCtrl&0x01 != 0
		isLast := msgCtrl&0x02 != 0

		p.pdvMu.Lock()
		acc, ok := p.pdvByContext[presContextID]
		if !ok {
			acc = &dimsePDV{}
			p.pdvByContext[presContextID] = acc
		}
		if isCommand {
			acc.command = append(acc.command, pdvData...)
		} else {
			acc.dataset = append(acc.dataset, pdvData...)
		}

		commandOnly := false
		if isCommand && isLast {
			if msg, derr := dimse.DecodeCommand(acc.command); derr == nil && msg.CommandDataSetType == 0x0101 {
				commandOnly = true
			}
		}

		done := (isLast && !isCommand) || commandOnly
		if done {
			delete(p.pdvByContext, presContextID)
		}
		p.pdvMu.Unlock()

		if done {
			p.deliverCommand(acc)
		}

		offset += 4 + int(pdvLength)
	}
}

func (p *Port) deliverCommand(acc *dimsePDV) {
	msg, err := dimse.DecodeCommand(acc.command)
	if err != nil {
		p.logger.Warn("decode DIMSE command failed", zap.Error(err))
		return
	}

	p.requestsMu.Lock()
	requestID, ok := p.requestsByMsg[msg.MessageIDBeingRespondedTo]
	terminal := queue.IsTerminalStatus(msg.Status)
	if ok && terminal {
		delete(p.requestsByMsg, msg.MessageIDBeingRespondedTo)
	}
	p.requestsMu.Unlock()

	if !ok {
		p.logger.Warn("response for unknown message ID", zap.Uint16("message_id", msg.MessageIDBeingRespondedTo))
		return
	}

	p.events <- assoc.RequestCompleted{
		RequestID: requestID,
		Status:    msg.Status,
		MessageID: msg.MessageIDBeingRespondedTo,
		Dataset:   acc.dataset,
		Terminal:  terminal,
	}

	if terminal {
		// A terminal response ends this presentation context's exchange;
		// Sending re-checks Outstanding() itself before deciding to linger.
		p.events <- assoc.SendQueueEmpty{}
	}
}

func (p *Port) closeEvents(err error) {
	p.closeOnce.Do(func() {
		p.events <- assoc.ConnectionClosed{Err: err}
		close(p.events)
	})
}
