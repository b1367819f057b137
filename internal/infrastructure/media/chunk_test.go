package media

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallFrameTravelsAsSinglePacket(t *testing.T) {
	frame := []byte("tiny jpeg")

	pkts := packetizeFrame(frame, 60000)
	require.Len(t, pkts, 1)

	single, chunk, ok := parseVideoPacket(pkts[0])
	require.True(t, ok)
	assert.Nil(t, chunk)
	assert.Equal(t, frame, single)
}

func TestThresholdSizedFrameStaysSingle(t *testing.T) {
	frame := bytes.Repeat([]byte{0xab}, 60000)

	pkts := packetizeFrame(frame, 60000)
	require.Len(t, pkts, 1)

	single, chunk, ok := parseVideoPacket(pkts[0])
	require.True(t, ok)
	assert.Nil(t, chunk)
	assert.Equal(t, frame, single)
}

func TestLargeFrameReassemblesByteIdentical(t *testing.T) {
	frame := make([]byte, 150000)
	rand.New(rand.NewSource(1)).Read(frame)

	pkts := packetizeFrame(frame, 60000)
	require.Len(t, pkts, 3)

	buf := newReassemblyBuffer(2 * time.Second)
	now := time.Now()

	var got []byte
	var done bool
	for _, pkt := range pkts {
		_, chunk, ok := parseVideoPacket(pkt)
		require.True(t, ok)
		require.NotNil(t, chunk)
		got, done = buf.add("192.0.2.1", chunk, now)
	}
	require.True(t, done)
	assert.Equal(t, frame, got)
}

func TestOutOfOrderChunksReassemble(t *testing.T) {
	frame := make([]byte, 150000)
	rand.New(rand.NewSource(2)).Read(frame)

	pkts := packetizeFrame(frame, 60000)
	require.Len(t, pkts, 3)

	// Deliver the middle chunk first, the last chunk last so reassembly
	// still triggers on is_last.
	order := []int{1, 0, 2}

	buf := newReassemblyBuffer(2 * time.Second)
	now := time.Now()

	var got []byte
	var done bool
	for _, i := range order {
		_, chunk, ok := parseVideoPacket(pkts[i])
		require.True(t, ok)
		got, done = buf.add("192.0.2.1", chunk, now)
	}
	require.True(t, done)
	assert.Equal(t, frame, got)
}

func TestSendersReassembleIndependently(t *testing.T) {
	frameA := bytes.Repeat([]byte{0x01}, 70000)
	frameB := bytes.Repeat([]byte{0x02}, 70000)

	pktsA := packetizeFrame(frameA, 60000)
	pktsB := packetizeFrame(frameB, 60000)

	buf := newReassemblyBuffer(2 * time.Second)
	now := time.Now()

	// Interleave the two senders' chunks.
	_, cA0, _ := parseVideoPacket(pktsA[0])
	_, cB0, _ := parseVideoPacket(pktsB[0])
	_, cA1, _ := parseVideoPacket(pktsA[1])
	_, cB1, _ := parseVideoPacket(pktsB[1])

	buf.add("10.0.0.1", cA0, now)
	buf.add("10.0.0.2", cB0, now)
	gotA, doneA := buf.add("10.0.0.1", cA1, now)
	gotB, doneB := buf.add("10.0.0.2", cB1, now)

	require.True(t, doneA)
	require.True(t, doneB)
	assert.Equal(t, frameA, gotA)
	assert.Equal(t, frameB, gotB)
}

func TestStalePartialFrameIsDiscarded(t *testing.T) {
	old := bytes.Repeat([]byte{0xde}, 70000)
	fresh := bytes.Repeat([]byte{0xad}, 70000)

	oldPkts := packetizeFrame(old, 60000)
	freshPkts := packetizeFrame(fresh, 60000)

	buf := newReassemblyBuffer(2 * time.Second)
	start := time.Now()

	// The old frame's is_last packet never arrives.
	_, stuck, _ := parseVideoPacket(oldPkts[0])
	_, done := buf.add("10.0.0.1", stuck, start)
	require.False(t, done)

	// Past the staleness window the next frame starts clean.
	later := start.Add(3 * time.Second)
	_, c0, _ := parseVideoPacket(freshPkts[0])
	_, c1, _ := parseVideoPacket(freshPkts[1])
	buf.add("10.0.0.1", c0, later)
	got, done := buf.add("10.0.0.1", c1, later)

	require.True(t, done)
	assert.Equal(t, fresh, got)
}

func TestParseRejectsShortAndInconsistentPackets(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"too short for any header", []byte{0x00, 0x01}},
		{"declared length exceeds packet", []byte{0x00, 0x00, 0xff, 0xff, 0x01}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := parseVideoPacket(tc.data)
			assert.False(t, ok)
		})
	}
}
