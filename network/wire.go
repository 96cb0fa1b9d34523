package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flowmesh/flowmesh/coord"
)

// ProtocolVersion is bumped whenever the frame format changes in a
// backwards-incompatible way. Mismatched peers abort the handshake
// (spec section 6).
const ProtocolVersion = 1

// frameKind is the wire msg_type field. Spec section 6 says msg_type
// "encodes the StreamElement variant"; flowmesh's NetworkMessage already
// carries a batch whose individual elements carry their own Kind
// (serialized by the Codec), so here msg_type instead distinguishes the
// two frame purposes the multiplexer itself needs to know about before
// it can hand bytes to a Codec: a data batch, or the connection
// handshake.
type frameKind uint32

const (
	frameHello frameKind = iota
	frameData
)

// sizeHeader is the byte length of the fixed frame header:
// u32 len, u32 endpoint_id, u32 msg_type, u32 sender_coord.
const sizeHeader = 4 * 4

// frame is the wire unit for one multiplexed message, following spec
// section 6's header layout (msg_type is used as described on frameKind):
// big-endian, length-prefixed, carrying an opaque application payload.
type frame struct {
	endpointID uint32
	kind       frameKind
	sender     uint32
	payload    []byte

	// sourceHost is not part of the wire format (the header carries no
	// host field, see EncodeEndpointID/encodeCoord); it is stamped in by
	// the multiplexer's receive loop, which already knows which peer
	// connection the frame arrived on, so the decoded sender Coord can
	// be reconstructed in full.
	sourceHost coord.HostID
}

func writeFrame(w io.Writer, f frame) error {
	header := make([]byte, sizeHeader)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(f.payload)))
	binary.BigEndian.PutUint32(header[4:8], f.endpointID)
	binary.BigEndian.PutUint32(header[8:12], uint32(f.kind))
	binary.BigEndian.PutUint32(header[12:16], f.sender)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("network: write frame header: %w", err)
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return fmt.Errorf("network: write frame payload: %w", err)
		}
	}
	return nil
}

func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, sizeHeader)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	f := frame{
		endpointID: binary.BigEndian.Uint32(header[4:8]),
		kind:       frameKind(binary.BigEndian.Uint32(header[8:12])),
		sender:     binary.BigEndian.Uint32(header[12:16]),
	}

	if length > 0 {
		f.payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return frame{}, fmt.Errorf("network: read frame payload: %w", err)
		}
	}
	return f, nil
}

// hello is the handshake frame exchanged once a TCP connection between
// two hosts is established.
type hello struct {
	hostID          uint32
	protocolVersion uint32
}

func writeHello(w io.Writer, h hello) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], h.hostID)
	binary.BigEndian.PutUint32(b[4:8], h.protocolVersion)
	return writeFrame(w, frame{kind: frameHello, payload: b})
}

func decodeHello(f frame) (hello, error) {
	if f.kind != frameHello || len(f.payload) != 8 {
		return hello{}, fmt.Errorf("network: malformed hello frame")
	}
	return hello{
		hostID:          binary.BigEndian.Uint32(f.payload[0:4]),
		protocolVersion: binary.BigEndian.Uint32(f.payload[4:8]),
	}, nil
}

// Endpoint id packing. Spec's ReceiverEndpoint is (destination Coord,
// source BlockID); the wire frame needs it collapsed into a single u32.
// Field widths below bound the job to 1024 blocks, 1024 replicas per
// block and 4096 blocks of source — generous for the single-digit-to-
// low-hundreds block/replica counts spec's own scenarios describe (S1-S5).
const (
	destBlockBits   = 10
	destReplicaBits = 10
	srcBlockBits    = 12
)

// EncodeEndpointID packs a ReceiverEndpoint into the wire's u32
// endpoint_id field. It is a pure function of the endpoint's content, so
// both ends of a multiplexed connection compute the same id independently
// without needing an out-of-band registry round-trip.
func EncodeEndpointID(e coord.ReceiverEndpoint) uint32 {
	db := uint32(e.Destination.Block) & ((1 << destBlockBits) - 1)
	dr := uint32(e.Destination.Replica) & ((1 << destReplicaBits) - 1)
	sb := uint32(e.Source) & ((1 << srcBlockBits) - 1)
	return (db << (destReplicaBits + srcBlockBits)) | (dr << srcBlockBits) | sb
}

func encodeCoord(c coord.Coord) uint32 {
	// Host is implied by which directed TCP connection the frame arrived
	// on, so only block+replica need to survive the round trip; they
	// reuse the same bit widths as the endpoint's destination fields.
	b := uint32(c.Block) & ((1 << destBlockBits) - 1)
	r := uint32(c.Replica) & ((1 << destReplicaBits) - 1)
	return (b << destReplicaBits) | r
}

func decodeCoordPartial(v uint32, host coord.HostID) coord.Coord {
	r := v & ((1 << destReplicaBits) - 1)
	b := v >> destReplicaBits
	return coord.Coord{Block: coord.BlockID(b), Host: host, Replica: coord.ReplicaID(r)}
}
