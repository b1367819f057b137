package media

import (
	"bytes"
	"encoding/binary"
	"sort"
	"time"
)

const (
	singleHeaderLen = 4
	chunkHeaderLen  = 9

	maxVideoDatagram = 65535
)

// videoChunk is one slice of an encoded frame that was too large for a
// single datagram.
type videoChunk struct {
	payload []byte
	offset  int
	isLast  bool
}

// packetizeFrame turns one encoded frame into the datagrams that carry it.
// A frame at or under the threshold travels as a single packet
// [4B len][payload]; anything larger is split into threshold-sized chunks
// [4B chunk_len][4B offset][1B is_last][payload].
func packetizeFrame(frame []byte, threshold int) [][]byte {
	if len(frame) <= threshold {
		pkt := make([]byte, singleHeaderLen+len(frame))
		binary.BigEndian.PutUint32(pkt, uint32(len(frame)))
		copy(pkt[singleHeaderLen:], frame)
		return [][]byte{pkt}
	}

	var pkts [][]byte
	for off := 0; off < len(frame); off += threshold {
		end := off + threshold
		if end > len(frame) {
			end = len(frame)
		}
		chunk := frame[off:end]

		pkt := make([]byte, chunkHeaderLen+len(chunk))
		binary.BigEndian.PutUint32(pkt, uint32(len(chunk)))
		binary.BigEndian.PutUint32(pkt[4:], uint32(off))
		if end == len(frame) {
			pkt[8] = 1
		}
		copy(pkt[chunkHeaderLen:], chunk)
		pkts = append(pkts, pkt)
	}
	return pkts
}

// parseVideoPacket interprets one inbound datagram. The chunked header is
// tried first; a well-formed single-frame packet can never satisfy the chunk
// length check (its declared length is datagram length minus 4, the chunk
// check requires length minus 9), so the two layouts never collide.
func parseVideoPacket(data []byte) (single []byte, chunk *videoChunk, ok bool) {
	if len(data) >= chunkHeaderLen {
		size := int(binary.BigEndian.Uint32(data))
		if size == len(data)-chunkHeaderLen {
			return nil, &videoChunk{
				payload: data[chunkHeaderLen:],
				offset:  int(binary.BigEndian.Uint32(data[4:])),
				isLast:  data[8] != 0,
			}, true
		}
	}

	if len(data) >= singleHeaderLen {
		size := int(binary.BigEndian.Uint32(data))
		if size <= len(data)-singleHeaderLen {
			return data[singleHeaderLen : singleHeaderLen+size], nil, true
		}
	}
	return nil, nil, false
}

type partialFrame struct {
	chunks  map[int][]byte
	started time.Time
}

// reassemblyBuffer collects chunked frames per sender. A partial frame whose
// first chunk is older than the staleness window is discarded the next time
// that sender delivers a chunk, so a lost is_last packet cannot pin memory
// or corrupt the following frame.
type reassemblyBuffer struct {
	stale  time.Duration
	frames map[string]*partialFrame
}

func newReassemblyBuffer(stale time.Duration) *reassemblyBuffer {
	return &reassemblyBuffer{
		stale:  stale,
		frames: make(map[string]*partialFrame),
	}
}

// add stores one chunk and, on is_last, returns the reassembled frame.
func (b *reassemblyBuffer) add(sender string, c *videoChunk, now time.Time) ([]byte, bool) {
	pf := b.frames[sender]
	if pf != nil && now.Sub(pf.started) > b.stale {
		delete(b.frames, sender)
		pf = nil
	}
	if pf == nil {
		pf = &partialFrame{chunks: make(map[int][]byte), started: now}
		b.frames[sender] = pf
	}

	pf.chunks[c.offset] = c.payload

	if !c.isLast {
		return nil, false
	}

	offsets := make([]int, 0, len(pf.chunks))
	for off := range pf.chunks {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	var frame bytes.Buffer
	for _, off := range offsets {
		frame.Write(pf.chunks[off])
	}
	delete(b.frames, sender)
	return frame.Bytes(), true
}
