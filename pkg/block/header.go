package block

import (
	"encoding/binary"
	"errors"

	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

var errShortHeader = errors.New("header: buffer shorter than 80 bytes")

// Header contains block metadata. It is exactly 80 bytes in its canonical
// wire form: version(4) | prev_hash(32) | merkle_root(32) | timestamp(4) |
// bits(4) | nonce(4).
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint32     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// HeaderSize is the fixed wire size of a header in bytes.
const HeaderSize = 4 + types.HashSize + types.HashSize + 4 + 4 + 4

// Hash computes the block header's identity hash (SHA-256d over the
// canonical signing bytes). This is distinct from the proof-of-work hash,
// which may use a different algorithm (see consensus.Engine).
func (h *Header) Hash() types.Hash {
	return crypto.Hash256(h.SigningBytes())
}

// SigningBytes returns the canonical 80-byte wire encoding of the header.
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// DecodeHeader parses a canonical 80-byte header encoding.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, errShortHeader
	}
	h := &Header{}
	off := 0
	h.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.PrevHash[:], buf[off:])
	off += types.HashSize
	copy(h.MerkleRoot[:], buf[off:])
	off += types.HashSize
	h.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Bits = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Nonce = binary.LittleEndian.Uint32(buf[off:])
	return h, nil
}
