package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// targetHexZeros is the proof-of-work difficulty: the number of leading
// hex-zero characters a block's hash must have.
const targetHexZeros = 4

// ProofOfWork mints or validates the nonce for a single block. Finding a
// valid nonce is deliberately expensive (expected ~16^targetHexZeros
// attempts); validating one already found is a single hash.
type ProofOfWork struct {
	Block *Block
}

// NewProof wraps b for mining or validation.
func NewProof(b *Block) *ProofOfWork {
	return &ProofOfWork{Block: b}
}

// InitData builds the hash preimage for a candidate nonce: the previous
// block hash, the Merkle root of this block's transactions, the block
// timestamp, the difficulty constant, and the nonce — all in the
// deterministic binary encoding, never gob.
func (pow *ProofOfWork) InitData(nonce int32) []byte {
	root := pow.Block.merkleRoot()

	w := NewWriter()
	w.WriteString(pow.Block.PrevBlockHash)
	w.WriteBytes(root)
	w.WriteUint128(pow.Block.Timestamp)
	w.WriteUint32(targetHexZeros)
	w.WriteInt32(nonce)
	return w.Bytes()
}

// Run searches for the first nonce whose hash has targetHexZeros leading
// hex-zero characters, returning that nonce and hash.
func (pow *ProofOfWork) Run() (int32, string) {
	var nonce int32
	for {
		sum := sha256.Sum256(pow.InitData(nonce))
		hexHash := hex.EncodeToString(sum[:])
		if hasLeadingHexZeros(hexHash, targetHexZeros) {
			return nonce, hexHash
		}
		nonce++
	}
}

// Validate recomputes the hash using the block's stored nonce and reports
// whether it reproduces the block's declared hash and meets the difficulty
// target.
func (pow *ProofOfWork) Validate() bool {
	sum := sha256.Sum256(pow.InitData(pow.Block.Nonce))
	hexHash := hex.EncodeToString(sum[:])
	return hexHash == pow.Block.Hash && hasLeadingHexZeros(hexHash, targetHexZeros)
}

func hasLeadingHexZeros(hexHash string, n int) bool {
	if len(hexHash) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}
