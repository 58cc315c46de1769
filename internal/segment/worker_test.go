package segment

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNewWorkerEngine_Validation(t *testing.T) {
	_, err := NewWorkerEngine(Config{WorkerCmd: "", Threshold: 0.7})
	assert.Error(t, err, "empty worker command must be rejected")

	_, err = NewWorkerEngine(Config{WorkerCmd: "worker.sh", Threshold: 0})
	assert.Error(t, err)
	_, err = NewWorkerEngine(Config{WorkerCmd: "worker.sh", Threshold: 1.5})
	assert.Error(t, err)

	e, err := NewWorkerEngine(Config{WorkerCmd: "worker.sh", Threshold: 1.0})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestSetThreshold_IgnoresOutOfRange(t *testing.T) {
	e, err := NewWorkerEngine(Config{WorkerCmd: "worker.sh", Threshold: 0.7})
	require.NoError(t, err)

	e.SetThreshold(0.3)
	assert.Equal(t, 0.3, math.Float64frombits(e.threshold.Load()))

	e.SetThreshold(0)
	assert.Equal(t, 0.3, math.Float64frombits(e.threshold.Load()))
	e.SetThreshold(2)
	assert.Equal(t, 0.3, math.Float64frombits(e.threshold.Load()))
}

// frameMessage builds one length-prefixed msgpack message as the
// worker would emit it
func frameMessage(t *testing.T, resp segmentResponse) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(&resp)
	require.NoError(t, err)

	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)
	return buf.Bytes()
}

func TestReadResults_DecodesStream(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameMessage(t, segmentResponse{Seq: 1, Mask: []byte{0, 1, 1, 0}, Positive: 2}))
	stream.Write(frameMessage(t, segmentResponse{Seq: 2, Error: "model not loaded"}))

	e := &WorkerEngine{
		respCh: make(chan segmentResponse, 4),
		stdout: io.NopCloser(&stream),
	}
	e.wg.Add(1)
	go e.readResults()

	resp := <-e.respCh
	assert.Equal(t, uint64(1), resp.Seq)
	assert.Equal(t, []byte{0, 1, 1, 0}, resp.Mask)
	assert.Equal(t, 2, resp.Positive)

	resp = <-e.respCh
	assert.Equal(t, uint64(2), resp.Seq)
	assert.Equal(t, "model not loaded", resp.Error)

	// Stream exhausted: channel closes
	_, ok := <-e.respCh
	assert.False(t, ok)
}

func TestReadResults_RejectsOversizedMessage(t *testing.T) {
	var stream bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], maxResponseSize+1)
	stream.Write(header[:])

	e := &WorkerEngine{
		respCh: make(chan segmentResponse, 1),
		stdout: io.NopCloser(&stream),
	}
	e.wg.Add(1)
	go e.readResults()

	select {
	case _, ok := <-e.respCh:
		assert.False(t, ok, "oversized message must close the channel, not deliver")
	case <-time.After(time.Second):
		t.Fatal("reader did not terminate on oversized message")
	}
}

func TestSend_FramesRequest(t *testing.T) {
	var sink bytes.Buffer
	e := &WorkerEngine{stdin: nopWriteCloser{&sink}}

	req := segmentRequest{
		Seq:       7,
		Width:     4,
		Height:    2,
		Threshold: 0.7,
		Data:      make([]byte, 4*2*4),
	}
	require.NoError(t, e.send(&req))

	raw := sink.Bytes()
	require.Greater(t, len(raw), 4)

	length := binary.LittleEndian.Uint32(raw[:4])
	require.Equal(t, int(length), len(raw)-4, "header must carry the payload length")

	var decoded segmentRequest
	require.NoError(t, msgpack.Unmarshal(raw[4:], &decoded))
	assert.Equal(t, req.Seq, decoded.Seq)
	assert.Equal(t, req.Width, decoded.Width)
	assert.Equal(t, req.Height, decoded.Height)
	assert.InDelta(t, req.Threshold, decoded.Threshold, 1e-9)
	assert.Len(t, decoded.Data, len(req.Data))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
