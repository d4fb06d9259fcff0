package wireport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/internal/testscp"
	"github.com/dicomkit/assoc/queue"
)

func dialSCP(t *testing.T, scp *testscp.SCP) *Port {
	t.Helper()
	host, port := scp.Addr()
	p := New(host, port, nil, Config{Logger: zap.NewNop()})
	require.NoError(t, p.Connect())
	return p
}

func awaitAccept(t *testing.T, p *Port) assoc.AssociationAccept {
	t.Helper()
	select {
	case ev := <-p.Events():
		accept, ok := ev.(assoc.AssociationAccept)
		require.True(t, ok, "expected AssociationAccept, got %T", ev)
		return accept
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AssociationAccept")
		return assoc.AssociationAccept{}
	}
}

func TestPortAssociationRoundTrip(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	require.NoError(t, p.SendAssociationRequest(assoc.Params{
		CallingAETitle: "CALLER",
		CalledAETitle:  "TESTSCP",
	}))

	accept := awaitAccept(t, p)
	assert.NotEmpty(t, accept.Association.AcceptedContexts)

	var verification bool
	for _, ctx := range accept.Association.AcceptedContexts {
		if ctx.AbstractSyntax == "1.2.840.10008.1.1" {
			verification = true
			assert.True(t, ctx.Accepted)
			assert.NotEmpty(t, ctx.TransferSyntax)
		}
	}
	assert.True(t, verification, "Verification SOP class must be accepted by the loopback SCP")
}

func TestPortEchoRoundTrip(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	require.NoError(t, p.SendAssociationRequest(assoc.Params{CallingAETitle: "CALLER", CalledAETitle: "TESTSCP"}))
	awaitAccept(t, p)

	req := queue.NewEchoRequest(1)
	require.NoError(t, p.SendRequest(req))

	var completed *assoc.RequestCompleted
	var sawQueueEmpty bool
	for completed == nil || !sawQueueEmpty {
		select {
		case ev := <-p.Events():
			switch v := ev.(type) {
			case assoc.RequestCompleted:
				completed = &v
			case assoc.SendQueueEmpty:
				sawQueueEmpty = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for C-ECHO response")
		}
	}

	require.NotNil(t, completed)
	assert.Equal(t, req.ID, completed.RequestID)
	assert.True(t, completed.Terminal)
	assert.Equal(t, uint16(0x0000), completed.Status)
}

func TestPortFindRoundTripStreamsPendingThenSuccess(t *testing.T) {
	scp, err := testscp.New("TESTSCP", testscp.WithFindResults([][]byte{[]byte("match-1"), []byte("match-2")}))
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	require.NoError(t, p.SendAssociationRequest(assoc.Params{CallingAETitle: "CALLER", CalledAETitle: "TESTSCP"}))
	awaitAccept(t, p)

	req := queue.NewFindRequest("", 1, 1, []byte("query"))
	require.NoError(t, p.SendRequest(req))

	var pending int
	var final *assoc.RequestCompleted
	for final == nil {
		select {
		case ev := <-p.Events():
			rc, ok := ev.(assoc.RequestCompleted)
			if !ok {
				continue
			}
			if rc.Terminal {
				final = &rc
			} else {
				pending++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for C-FIND responses")
		}
	}

	assert.Equal(t, 2, pending)
	assert.Equal(t, req.ID, final.RequestID)
	assert.Equal(t, uint16(0x0000), final.Status)
}

func TestPortReleaseRoundTrip(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	require.NoError(t, p.SendAssociationRequest(assoc.Params{CallingAETitle: "CALLER", CalledAETitle: "TESTSCP"}))
	awaitAccept(t, p)

	require.NoError(t, p.SendAssociationRelease())

	select {
	case ev := <-p.Events():
		_, ok := ev.(assoc.AssociationReleaseResponse)
		assert.True(t, ok, "expected AssociationReleaseResponse, got %T", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for A-RELEASE-RP")
	}
}

func TestPortDisconnectClosesEventsWithConnectionClosed(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)

	require.NoError(t, p.SendAssociationRequest(assoc.Params{CallingAETitle: "CALLER", CalledAETitle: "TESTSCP"}))
	awaitAccept(t, p)

	require.NoError(t, p.Disconnect())

	select {
	case ev, ok := <-p.Events():
		if ok {
			_, isClosed := ev.(assoc.ConnectionClosed)
			assert.True(t, isClosed)
			_, stillOpen := <-p.Events()
			assert.False(t, stillOpen, "Events channel must close after ConnectionClosed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Events to close after Disconnect")
	}
}

func TestPortSendCancelWithoutPresentationContextFails(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	err = p.SendCancel(1, "1.2.840.10008.5.1.4.1.2.2.1")
	assert.Error(t, err, "SendCancel before any presentation context is accepted must fail rather than write garbage")
}

func TestPortSendCancelAfterAssociationWritesWithoutError(t *testing.T) {
	scp, err := testscp.New("TESTSCP")
	require.NoError(t, err)
	defer scp.Close()

	p := dialSCP(t, scp)
	defer p.Disconnect()

	require.NoError(t, p.SendAssociationRequest(assoc.Params{CallingAETitle: "CALLER", CalledAETitle: "TESTSCP"}))
	awaitAccept(t, p)

	findSOPClassUID := "1.2.840.10008.5.1.4.1.2.2.1"
	req := queue.NewFindRequest(findSOPClassUID, 1, 1, []byte("query"))
	require.NoError(t, p.SendRequest(req))

	// The loopback SCP has no C-CANCEL handling of its own; this only
	// exercises that the port can encode and write the PDU against a
	// negotiated presentation context without erroring.
	assert.NoError(t, p.SendCancel(req.MessageID, findSOPClassUID))

	// Drain the in-flight C-FIND responses so the connection shuts down
	// cleanly instead of leaving goroutines racing Close().
	for i := 0; i < 3; i++ {
		select {
		case ev := <-p.Events():
			if rc, ok := ev.(assoc.RequestCompleted); ok && rc.Terminal {
				return
			}
		case <-time.After(2 * time.Second):
			return
		}
	}
}
