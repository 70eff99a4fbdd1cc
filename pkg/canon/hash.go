package canon

import (
	"encoding/binary"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashBytes returns the lowercase hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SpecHash parses raw spec JSON, canonicalizes it, and returns the 64-char
// lowercase hex BLAKE3 digest of the canonical bytes.
func SpecHash(raw []byte) (string, error) {
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// truncate32 takes the first 4 bytes of a BLAKE3 digest as a little-endian u32.
func truncate32(digest [32]byte) uint32 {
	return binary.LittleEndian.Uint32(digest[:4])
}

// DeriveLayerSeed derives the seed for audio layer idx from the spec seed.
// Formula: u32-truncated BLAKE3 over LE(base) || LE(idx).
func DeriveLayerSeed(base, idx uint32) uint32 {
	var msg [8]byte
	binary.LittleEndian.PutUint32(msg[0:4], base)
	binary.LittleEndian.PutUint32(msg[4:8], idx)
	return truncate32(blake3.Sum256(msg[:]))
}

// DeriveVariantSeed derives a seed for a named sub-stream (texture node,
// compose prob/choose salt) from the spec seed.
// Formula: u32-truncated BLAKE3 over LE(base) || UTF-8(id).
func DeriveVariantSeed(base uint32, id string) uint32 {
	msg := make([]byte, 4+len(id))
	binary.LittleEndian.PutUint32(msg[0:4], base)
	copy(msg[4:], id)
	return truncate32(blake3.Sum256(msg))
}

// DeriveVariantSpecSeed derives a seed with an extra numeric offset between
// the base and the id, used when one named stream needs several sub-streams.
// Formula: u32-truncated BLAKE3 over LE(base) || LE(offset) || UTF-8(id).
func DeriveVariantSpecSeed(base, offset uint32, id string) uint32 {
	msg := make([]byte, 8+len(id))
	binary.LittleEndian.PutUint32(msg[0:4], base)
	binary.LittleEndian.PutUint32(msg[4:8], offset)
	copy(msg[8:], id)
	return truncate32(blake3.Sum256(msg))
}
