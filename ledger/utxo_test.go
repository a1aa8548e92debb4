package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestUtxo(t *testing.T, chain *BlockStore) *UtxoIndex {
	t.Helper()
	utxo, err := NewUtxoIndex(t.TempDir(), chain)
	require.NoError(t, err)
	t.Cleanup(func() { utxo.Close() })
	return utxo
}

func TestReindexRebuildsFromChain(t *testing.T) {
	minerHash := []byte("miner-hash")
	store := openTestStore(t, minerHash)
	utxo := openTestUtxo(t, store)

	require.NoError(t, utxo.Reindex())

	count, err := utxo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	owned, err := utxo.FindUTXO(minerHash)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, CoinbaseReward, owned[0].Value)
}

func TestUpdateAppliesSingleBlock(t *testing.T) {
	minerHash := []byte("miner-hash")
	store := openTestStore(t, minerHash)
	utxo := openTestUtxo(t, store)
	require.NoError(t, utxo.Reindex())

	block, err := store.MineBlock([]*Transaction{NewCoinbaseTx(minerHash, "")})
	require.NoError(t, err)
	require.NoError(t, utxo.Update(block))

	owned, err := utxo.FindUTXO(minerHash)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestUpdateRemovesSpentOutputs(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	minerHash := []byte("miner-hash")
	recipientHash := []byte("recipient-hash")
	store := openTestStore(t, minerHash)
	utxo := openTestUtxo(t, store)
	require.NoError(t, utxo.Reindex())

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)

	spend := signedSpend(t, priv, genesis.Transactions[0], 0, CoinbaseReward, recipientHash)

	block, err := store.MineBlock([]*Transaction{spend, NewCoinbaseTx(minerHash, "")})
	require.NoError(t, err)
	require.NoError(t, utxo.Update(block))

	minerOwned, err := utxo.FindUTXO(minerHash)
	require.NoError(t, err)
	assert.Len(t, minerOwned, 1)

	recipientOwned, err := utxo.FindUTXO(recipientHash)
	require.NoError(t, err)
	require.Len(t, recipientOwned, 1)
	assert.Equal(t, CoinbaseReward, recipientOwned[0].Value)
}

func TestFindSpendableOutputsAccumulatesUntilAmountCovered(t *testing.T) {
	minerHash := []byte("miner-hash")
	store := openTestStore(t, minerHash)
	utxo := openTestUtxo(t, store)

	_, err := store.MineBlock([]*Transaction{NewCoinbaseTx(minerHash, "")})
	require.NoError(t, err)
	_, err = store.MineBlock([]*Transaction{NewCoinbaseTx(minerHash, "")})
	require.NoError(t, err)
	require.NoError(t, utxo.Reindex())

	acc, selected, err := utxo.FindSpendableOutputs(minerHash, CoinbaseReward+1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, int32(CoinbaseReward+1))
	assert.GreaterOrEqual(t, len(selected), 2)
}

func TestFindSpendableOutputsInsufficientBalance(t *testing.T) {
	minerHash := []byte("miner-hash")
	store := openTestStore(t, minerHash)
	utxo := openTestUtxo(t, store)
	require.NoError(t, utxo.Reindex())

	acc, _, err := utxo.FindSpendableOutputs(minerHash, CoinbaseReward*10)
	require.NoError(t, err)
	assert.Less(t, acc, int32(CoinbaseReward*10))
}
