package ledger

import (
	"github.com/pkg/errors"
)

// Block is one entry in the chain: a timestamped batch of transactions,
// bound together by their Merkle root and sealed with a proof-of-work
// nonce.
type Block struct {
	Timestamp     Uint128
	Transactions  []*Transaction
	PrevBlockHash string
	Hash          string
	Height        int32
	Nonce         int32
}

// NewGenesisBlock mints height-0 block whose sole transaction is coinbase.
func NewGenesisBlock(coinbase *Transaction) *Block {
	return NewBlock([]*Transaction{coinbase}, "", 0)
}

// NewBlock mints a new block at height over txs, chained after prevHash.
// Minting runs proof-of-work to completion before returning.
func NewBlock(txs []*Transaction, prevHash string, height int32) *Block {
	b := &Block{
		Timestamp:     NowUnixMilli(),
		Transactions:  txs,
		PrevBlockHash: prevHash,
		Height:        height,
	}
	nonce, hash := NewProof(b).Run()
	b.Nonce = nonce
	b.Hash = hash
	return b
}

// Validate recomputes this block's proof-of-work and reports whether it is
// self-consistent. It does not re-verify transaction signatures — see
// spec's documented simplification that received blocks are not
// re-verified at ingest.
func (b *Block) Validate() bool {
	return NewProof(b).Validate()
}

func (b *Block) merkleRoot() []byte {
	leaves := make([][]byte, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		leaves = append(leaves, []byte(tx.ID))
	}
	return NewMerkleTree(leaves).RootHash
}

// Serialize encodes the block for BlockStore persistence.
func (b *Block) Serialize() []byte {
	w := NewWriter()
	w.WriteString(b.Hash)
	w.WriteString(b.PrevBlockHash)
	w.WriteUint128(b.Timestamp)
	w.WriteInt32(b.Height)
	w.WriteInt32(b.Nonce)
	w.WriteCount(len(b.Transactions))
	for _, tx := range b.Transactions {
		tx.encode(w)
	}
	return w.Bytes()
}

// DeserializeBlock decodes a block previously produced by Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	r := NewReader(data)

	hash, err := r.ReadString()
	if err != nil {
		return nil, errors.Wrap(err, "decode block hash")
	}
	prevHash, err := r.ReadString()
	if err != nil {
		return nil, errors.Wrap(err, "decode block prev hash")
	}
	timestamp, err := r.ReadUint128()
	if err != nil {
		return nil, errors.Wrap(err, "decode block timestamp")
	}
	height, err := r.ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "decode block height")
	}
	nonce, err := r.ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "decode block nonce")
	}
	count, err := r.ReadCount()
	if err != nil {
		return nil, errors.Wrap(err, "decode block tx count")
	}

	txs := make([]*Transaction, 0, count)
	for i := 0; i < count; i++ {
		tx, err := decodeTransaction(r)
		if err != nil {
			return nil, errors.Wrapf(err, "decode block tx %d", i)
		}
		txs = append(txs, tx)
	}
	if err := r.RequireDrained(); err != nil {
		return nil, errors.Wrap(err, "trailing bytes in block")
	}

	return &Block{
		Hash:          hash,
		PrevBlockHash: prevHash,
		Timestamp:     timestamp,
		Height:        height,
		Nonce:         nonce,
		Transactions:  txs,
	}, nil
}

// IsGenesis reports whether b has no predecessor.
func (b *Block) IsGenesis() bool {
	return b.PrevBlockHash == ""
}
