package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	infos [][]byte
	err   error
}

func (r *recorder) EnqueueCommand(info []byte) error {
	if r.err != nil {
		return r.err
	}
	r.infos = append(r.infos, info)
	return nil
}

func decodeReply(t *testing.T, b []byte) Reply {
	t.Helper()
	var r Reply
	require.NoError(t, json.Unmarshal(b, &r))
	return r
}

func TestCommandInfoLayout(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0x03, 0x04, 0x03, 0x02, 0x01, 0x00, 0x00}, CommandInfo(CmdSetThreshold, 3, 0x01020304))
}

func TestSetMode(t *testing.T) {
	rec := &recorder{}
	h := NewHandler(rec, nil)
	rep := decodeReply(t, h.Handle([]byte(`{"type":"setmode","mode":"purge"}`)))
	assert.Equal(t, Reply{Type: TypeAckMode, Mode: "purge"}, rep)
	require.Len(t, rec.infos, 1)
	assert.Equal(t, CommandInfo(CmdSetMode, 0, Modes["purge"]), rec.infos[0])
}

func TestSetModeUnknownIsNack(t *testing.T) {
	rec := &recorder{}
	rep := decodeReply(t, NewHandler(rec, nil).Handle([]byte(`{"type":"setmode","mode":"turbo"}`)))
	assert.Equal(t, TypeNack, rep.Type)
	assert.Contains(t, rep.Error, "unknown mode")
	assert.Empty(t, rec.infos)
}

func TestSetThresholds(t *testing.T) {
	rec := &recorder{}
	rep := decodeReply(t, NewHandler(rec, nil).Handle([]byte(`{"type":"setthresholds","thresholds":[10,20,30]}`)))
	assert.Equal(t, TypeAckThresholds, rep.Type)
	assert.Equal(t, []uint32{10, 20, 30}, rep.Thresholds)
	require.Len(t, rec.infos, 3)
	for i, v := range []uint32{10, 20, 30} {
		assert.Equal(t, CommandInfo(CmdSetThreshold, byte(i), v), rec.infos[i])
	}
}

func TestSetup(t *testing.T) {
	rec := &recorder{}
	rep := decodeReply(t, NewHandler(rec, nil).Handle([]byte(`{"type":"setup","mode":"flush","thresholds":[5]}`)))
	assert.Equal(t, Reply{Type: TypeAck, Mode: "flush", Thresholds: []uint32{5}}, rep)
	require.Len(t, rec.infos, 2)
	assert.Equal(t, CmdSetMode, rec.infos[0][0])
	assert.Equal(t, CmdSetThreshold, rec.infos[1][0])
}

func TestInvalidRequests(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`{"type":"reboot"}`, ErrUnknownType},
		{`{"type":"setthresholds"}`, ErrThresholds},
		{`{"type":"setup","mode":"breathe"}`, ErrThresholds},
		{`{"type":"setup","mode":"sleep","thresholds":[1]}`, ErrUnknownMode},
		{`{"type":"setthresholds","thresholds":[1,2,3,4,5,6,7,8,9]}`, ErrThresholds},
	}
	for _, tc := range cases {
		_, err := DecodeRequest([]byte(tc.raw))
		assert.ErrorIs(t, err, tc.want, tc.raw)
	}
	_, err := DecodeRequest([]byte(`{"type":`))
	assert.Error(t, err)

	rep := decodeReply(t, NewHandler(&recorder{}, nil).Handle([]byte("not json")))
	assert.Equal(t, TypeNack, rep.Type)
}

func TestEnqueueFailureIsNack(t *testing.T) {
	rec := &recorder{err: errors.New("link down")}
	rep := decodeReply(t, NewHandler(rec, nil).Handle([]byte(`{"type":"setmode","mode":"breathe"}`)))
	assert.Equal(t, TypeNack, rep.Type)
	assert.Equal(t, "link down", rep.Error)
}

func TestBroadcastEncoding(t *testing.T) {
	b, err := json.Marshal(NewBroadcast(nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"broadcast","sensors":[],"alarms":[]}`, string(b))

	b, err = json.Marshal(NewBroadcast([]uint64{3, 4}, []string{"0x00000102"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"broadcast","sensors":[3,4],"alarms":["0x00000102"]}`, string(b))
}

func TestModeNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"breathe", "flush", "purge"}, ModeNames())
}
