package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, genesisPubKeyHash []byte) *BlockStore {
	t.Helper()
	store, err := CreateBlockStore(t.TempDir(), genesisPubKeyHash)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateBlockStoreSeedsGenesis(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tip, err := store.Tip()
	require.NoError(t, err)

	block, err := store.GetBlock(tip)
	require.NoError(t, err)
	assert.True(t, block.IsGenesis())

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)
}

func TestCreateBlockStoreReplacesExistingChain(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateBlockStore(dir, []byte("hash"))
	require.NoError(t, err)
	_, err = store.MineBlock([]*Transaction{NewCoinbaseTx([]byte("hash"), "")})
	require.NoError(t, err)
	store.Close()

	store, err = CreateBlockStore(dir, []byte("hash"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)
}

func TestMineBlockAdvancesTipAndHeight(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tx := NewCoinbaseTx([]byte("miner-hash"), "")
	block, err := store.MineBlock([]*Transaction{tx})
	require.NoError(t, err)
	assert.Equal(t, int32(1), block.Height)

	tip, err := store.Tip()
	require.NoError(t, err)
	assert.Equal(t, block.Hash, tip)

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(1), height)
}

func TestAddBlockIsIdempotent(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)

	next := NewBlock([]*Transaction{NewCoinbaseTx([]byte("miner-hash"), "")}, genesis.Hash, genesis.Height+1)

	require.NoError(t, store.AddBlock(next))
	firstTip, err := store.Tip()
	require.NoError(t, err)
	assert.Equal(t, next.Hash, firstTip)

	require.NoError(t, store.AddBlock(next))
	secondTip, err := store.Tip()
	require.NoError(t, err)
	assert.Equal(t, firstTip, secondTip)
}

func TestAddBlockRespectsLongestChainRule(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)

	shorter := NewBlock([]*Transaction{NewCoinbaseTx([]byte("miner-hash"), "")}, genesis.Hash, genesis.Height+1)
	require.NoError(t, store.AddBlock(shorter))

	// A stale re-delivery of genesis itself must never move the tip backward.
	require.NoError(t, store.AddBlock(genesis))

	finalTip, err := store.Tip()
	require.NoError(t, err)
	assert.Equal(t, shorter.Hash, finalTip)
}

func TestGetBlockHashesWalksToGenesis(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	_, err := store.MineBlock([]*Transaction{NewCoinbaseTx([]byte("miner-hash"), "")})
	require.NoError(t, err)
	_, err = store.MineBlock([]*Transaction{NewCoinbaseTx([]byte("miner-hash"), "")})
	require.NoError(t, err)

	hashes, err := store.GetBlockHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	last, err := store.GetBlock(hashes[len(hashes)-1])
	require.NoError(t, err)
	assert.True(t, last.IsGenesis())
}

func TestFindTransactionLocatesCoinbase(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)

	found, err := store.FindTransaction(genesis.Transactions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, genesis.Transactions[0].ID, found.ID)

	_, err = store.FindTransaction("does-not-exist")
	assert.Error(t, err)
}

func signedSpend(t *testing.T, priv ed25519.PrivateKey, prevTx *Transaction, vout int32, amount int32, toPubKeyHash []byte) *Transaction {
	t.Helper()
	tx := &Transaction{
		Vin:  []TxInput{{Txid: prevTx.ID, Vout: vout, PubKey: priv.Public().(ed25519.PublicKey)}},
		Vout: []TxOutput{NewTxOutput(amount, toPubKeyHash)},
	}
	tx.ID = tx.Hash()
	require.NoError(t, tx.Sign(priv, map[string]*Transaction{prevTx.ID: prevTx}))
	return tx
}

func TestFindUTXOExcludesSpentOutputs(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderHash := PublicKeyHash(pub)

	store := openTestStore(t, senderHash)

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbaseID := genesis.Transactions[0].ID

	spend := signedSpend(t, priv, genesis.Transactions[0], 0, 100, []byte("someone-else"))

	_, err = store.MineBlock([]*Transaction{spend, NewCoinbaseTx(senderHash, "")})
	require.NoError(t, err)

	utxo, err := store.FindUTXO()
	require.NoError(t, err)

	if entry, ok := utxo[coinbaseID]; ok {
		assert.Empty(t, entry.Outputs)
	}
	require.Contains(t, utxo, spend.ID)
	assert.Len(t, utxo[spend.ID].Outputs, 1)
}

func TestMineBlockRejectsUnverifiableTransaction(t *testing.T) {
	store := openTestStore(t, []byte("miner-hash"))

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbaseID := genesis.Transactions[0].ID

	_, bogusPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	unsigned := signedSpend(t, bogusPriv, genesis.Transactions[0], 0, 50, []byte("someone-else"))
	// Tamper the signature after signing so it no longer verifies.
	unsigned.Vin[0].Signature[0] ^= 0xFF

	_, err = store.MineBlock([]*Transaction{unsigned, NewCoinbaseTx([]byte("miner-hash"), "")})
	assert.Error(t, err)

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)

	_, err = store.FindTransaction(coinbaseID)
	require.NoError(t, err)
}

func TestMineBlockRejectsDoubleSpend(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderHash := PublicKeyHash(pub)

	store := openTestStore(t, senderHash)

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbase := genesis.Transactions[0]

	firstSpend := signedSpend(t, priv, coinbase, 0, 40, []byte("recipient-one"))
	_, err = store.MineBlock([]*Transaction{firstSpend, NewCoinbaseTx(senderHash, "")})
	require.NoError(t, err)

	heightAfterFirst, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(1), heightAfterFirst)

	// Same output (coinbase:0) spent again in a second, independent block:
	// MineBlock must reject it even though the transaction is individually
	// well-formed and validly signed.
	secondSpend := signedSpend(t, priv, coinbase, 0, 40, []byte("recipient-two"))
	_, err = store.MineBlock([]*Transaction{secondSpend, NewCoinbaseTx(senderHash, "")})
	assert.Error(t, err)

	heightAfterSecond, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, heightAfterFirst, heightAfterSecond)
}

func TestMineBlockRejectsDoubleSpendWithinSameBatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderHash := PublicKeyHash(pub)

	store := openTestStore(t, senderHash)

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbase := genesis.Transactions[0]

	first := signedSpend(t, priv, coinbase, 0, 30, []byte("recipient-one"))
	second := signedSpend(t, priv, coinbase, 0, 30, []byte("recipient-two"))

	_, err = store.MineBlock([]*Transaction{first, second, NewCoinbaseTx(senderHash, "")})
	assert.Error(t, err)

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)
}
