package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/audit"
	"github.com/swarm-console/internal/commands"
	"github.com/swarm-console/internal/datagram"
)

type countingSender struct {
	calls    int
	payloads [][]byte
	err      error
}

func (s *countingSender) Send(ctx context.Context, payload []byte) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

type failingCodec struct{}

func (failingCodec) Encode(datagram.Record) ([]byte, error) {
	return nil, errors.New("cannot encode")
}

type auditCall struct {
	entry audit.AuditEntry
	err   error
	code  string
}

type fakeAuditor struct {
	calls []auditCall
}

func (a *fakeAuditor) LogDispatch(ctx context.Context, entry audit.AuditEntry, err error, code string) {
	a.calls = append(a.calls, auditCall{entry: entry, err: err, code: code})
}

func newCodec(t *testing.T) *datagram.CBORCodec {
	t.Helper()
	codec, err := datagram.NewCBORCodec(666)
	require.NoError(t, err)
	return codec
}

func TestDispatchSendsExactlyOnce(t *testing.T) {
	codec := newCodec(t)
	sender := &countingSender{}
	auditor := &fakeAuditor{}
	d := NewDispatcher(codec, sender, auditor, nil)

	record := datagram.Record{Code: commands.CodeGoto, Args: []any{1.0, 2.0, 3.0, 0.5}, TargetID: "105", Group: 2}
	var out bytes.Buffer
	require.NoError(t, d.Dispatch(context.Background(), &out, "goto", address.ID("105"), record))

	assert.Equal(t, 1, sender.calls)
	envelope, err := codec.Decode(sender.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, record, envelope.Record)

	assert.Equal(t, "sent goto [1 2 3 0.5] -> 105 (group 2)\n", out.String())

	require.Len(t, auditor.calls, 1)
	assert.NoError(t, auditor.calls[0].err)
	assert.Equal(t, "GOTO", auditor.calls[0].entry.Command)
	assert.Equal(t, "105", auditor.calls[0].entry.Target)
}

func TestDispatchBroadcastAndGroupEcho(t *testing.T) {
	d := NewDispatcher(newCodec(t), &countingSender{}, nil, nil)

	var out bytes.Buffer
	require.NoError(t, d.Dispatch(context.Background(), &out, "takeoff", address.All(), datagram.Record{Code: commands.CodeTakeoff}))
	require.NoError(t, d.Dispatch(context.Background(), &out, "land", address.InGroup(3), datagram.Record{Code: commands.CodeLand, Group: 3}))

	assert.Equal(t, "sent takeoff [] -> all (group 0)\nsent land [] -> g:3 (group 3)\n", out.String())
}

func TestDispatchGroupZeroIsNotReportedAsBroadcast(t *testing.T) {
	auditor := &fakeAuditor{}
	d := NewDispatcher(newCodec(t), &countingSender{}, auditor, nil)

	var out bytes.Buffer
	require.NoError(t, d.Dispatch(context.Background(), &out, "land", address.InGroup(0), datagram.Record{Code: commands.CodeLand}))

	assert.Equal(t, "sent land [] -> g:0 (group 0)\n", out.String())
	require.Len(t, auditor.calls, 1)
	assert.Equal(t, "g:0", auditor.calls[0].entry.Target)
}

func TestDispatchTransportFailure(t *testing.T) {
	sender := &countingSender{err: errors.New("network is unreachable")}
	auditor := &fakeAuditor{}
	d := NewDispatcher(newCodec(t), sender, auditor, nil)

	var out bytes.Buffer
	err := d.Dispatch(context.Background(), &out, "arm", address.ID("7"), datagram.Record{Code: commands.CodeArm, TargetID: "7"})

	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, sender.err)
	assert.Contains(t, err.Error(), "arm to 7 not sent")
	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, out.String(), "no echo for a failed send")

	require.Len(t, auditor.calls, 1)
	assert.Equal(t, ErrTransport, auditor.calls[0].code)
	assert.Error(t, auditor.calls[0].err)
}

func TestDispatchEncodeFailureSkipsSend(t *testing.T) {
	sender := &countingSender{}
	d := NewDispatcher(failingCodec{}, sender, nil, nil)

	err := d.Dispatch(context.Background(), &bytes.Buffer{}, "arm", address.All(), datagram.Record{Code: commands.CodeArm})

	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, sender.calls)
}
