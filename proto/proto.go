// The MIT License (MIT)
//
// Copyright (c) 2017 CEA Sec
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package proto implements the hairgap wire format: a fixed 24-byte
// big-endian header followed by an optional payload, carried in a single
// UDP datagram. Control packets (BEGIN, END, KEEPALIVE) are header-only
// and are identified by reserved chunk_num sentinels.
package proto

import (
	"encoding/binary"

	"github.com/cea-sec/hairgap/errcode"
)

const (
	// HeaderLen is the fixed length of the wire header.
	HeaderLen = 24
	// MaxPktSize is a bit more than the standard UDP MTU.
	MaxPktSize = 1500
	// MaxNPkt is the largest number of payloads in a chunk.
	MaxNPkt = 64000
	// MaxChunkSize is a bit more than the real max possible size.
	MaxChunkSize = MaxPktSize * MaxNPkt
	// MaxDataSize is the largest payload a packet can carry.
	MaxDataSize = MaxPktSize - HeaderLen
	// SalvoLen is how many times a control packet is repeated. The
	// protocol is one-way, so control packets receive no acknowledgement;
	// replicating them makes delivery probability overwhelming even on
	// very lossy links.
	SalvoLen = 32
	// DefaultPort looks like \m/(-_-)\m/
	DefaultPort = 11011
)

// Reserved chunk_num values. Anything at or above FirstReserved that is
// not one of the three defined beacons is an unknown packet and must be
// ignored.
const (
	FirstReserved   uint64 = 0xfffffffffffffff0
	KeepAliveBeacon uint64 = 0xfffffffffffffffd
	BeginBeacon     uint64 = 0xfffffffffffffffe
	NoMoreChunk     uint64 = 0xffffffffffffffff
)

// PacketType classifies a raw datagram.
type PacketType int

const (
	PktUnknown PacketType = iota
	PktBegin
	PktEnd
	PktKeepAlive
	PktData
)

func (t PacketType) String() string {
	switch t {
	case PktBegin:
		return "BEGIN"
	case PktEnd:
		return "END"
	case PktKeepAlive:
		return "KEEPALIVE"
	case PktData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Header is the decoded form of the wire header.
type Header struct {
	// ChunkNum identifies the chunk of encoded data this packet is part of.
	ChunkNum uint64
	// ChunkSize is the byte length of the source chunk.
	ChunkSize uint64
	// DataID is the id of the encoded block in this packet.
	DataID uint32
	// DataSize is the byte length of the payload that follows the header.
	DataSize uint32
}

// Marshal writes the header in big-endian form at the start of buf.
// buf must be at least HeaderLen bytes long.
func (h Header) Marshal(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], h.ChunkNum)
	binary.BigEndian.PutUint64(buf[8:16], h.ChunkSize)
	binary.BigEndian.PutUint32(buf[16:20], h.DataID)
	binary.BigEndian.PutUint32(buf[20:24], h.DataSize)
}

// Parse decodes a received datagram into its header and a view on its
// payload. It fails with BadPkt when the datagram is shorter than a
// header or when the declared payload does not fit in the datagram.
func Parse(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderLen {
		return Header{}, nil, errcode.BadPkt
	}
	h := Header{
		ChunkNum:  binary.BigEndian.Uint64(raw[0:8]),
		ChunkSize: binary.BigEndian.Uint64(raw[8:16]),
		DataID:    binary.BigEndian.Uint32(raw[16:20]),
		DataSize:  binary.BigEndian.Uint32(raw[20:24]),
	}
	if uint64(len(raw)) < uint64(h.DataSize)+HeaderLen {
		return Header{}, nil, errcode.BadPkt
	}
	return h, raw[HeaderLen : HeaderLen+int(h.DataSize)], nil
}

// Classify returns the type of a raw datagram by inspecting chunk_num
// only. Datagrams too short to carry a header are unknown.
func Classify(raw []byte) PacketType {
	if len(raw) < HeaderLen {
		return PktUnknown
	}
	switch num := binary.BigEndian.Uint64(raw[0:8]); num {
	case BeginBeacon:
		return PktBegin
	case NoMoreChunk:
		return PktEnd
	case KeepAliveBeacon:
		return PktKeepAlive
	default:
		if num >= FirstReserved {
			return PktUnknown
		}
		return PktData
	}
}

// BeginHeader announces the beginning of a transfer.
func BeginHeader() Header { return Header{ChunkNum: BeginBeacon} }

// EndHeader announces the end of a transfer.
func EndHeader() Header { return Header{ChunkNum: NoMoreChunk} }

// KeepAliveHeader builds a liveness beacon.
func KeepAliveHeader() Header { return Header{ChunkNum: KeepAliveBeacon} }
