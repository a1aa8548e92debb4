package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/golang-powchain/ledger"
	"github.com/golang-powchain/walletkey"
)

func newTestNode(t *testing.T, address string, miningPubKeyHash []byte, store *ledger.BlockStore, utxo *ledger.UtxoIndex) *Node {
	t.Helper()
	return New(address, miningPubKeyHash, store, utxo, zap.NewNop().Sugar())
}

func newTestStoreAndUtxo(t *testing.T, genesisPubKeyHash []byte) (*ledger.BlockStore, *ledger.UtxoIndex) {
	t.Helper()
	store, err := ledger.CreateBlockStore(t.TempDir(), genesisPubKeyHash)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	utxo, err := ledger.NewUtxoIndex(t.TempDir(), store)
	require.NoError(t, err)
	t.Cleanup(func() { utxo.Close() })
	require.NoError(t, utxo.Reindex())

	return store, utxo
}

func TestIsMiningReflectsConfiguredRewardAddress(t *testing.T) {
	store, utxo := newTestStoreAndUtxo(t, []byte("someone"))

	miner := newTestNode(t, "localhost:4001", []byte("reward-hash"), store, utxo)
	assert.True(t, miner.IsMining())

	relay := newTestNode(t, "localhost:4002", nil, store, utxo)
	assert.False(t, relay.IsMining())
}

func TestIsBootstrapMatchesHardcodedAddress(t *testing.T) {
	store, utxo := newTestStoreAndUtxo(t, []byte("someone"))

	bootstrap := newTestNode(t, bootstrapAddr, nil, store, utxo)
	assert.True(t, bootstrap.isBootstrap())

	other := newTestNode(t, "localhost:4003", nil, store, utxo)
	assert.False(t, other.isBootstrap())
}

func TestHandleAddrMergesPeerList(t *testing.T) {
	store, utxo := newTestStoreAndUtxo(t, []byte("someone"))
	n := newTestNode(t, "localhost:4004", nil, store, utxo)

	msg := addrMsg{AddrList: []string{"localhost:5001", "localhost:5002"}}
	n.handleAddr(msg.encode())

	n.mu.Lock()
	peers := append([]string(nil), n.knownPeers...)
	n.mu.Unlock()

	assert.Contains(t, peers, "localhost:5001")
	assert.Contains(t, peers, "localhost:5002")
	assert.Contains(t, peers, bootstrapAddr)
}

func TestHandleTxQueuesAndMinesWhenMiningEnabled(t *testing.T) {
	wallet, err := walletkey.New()
	require.NoError(t, err)
	senderHash := ledger.PublicKeyHash(wallet.PublicKey())

	store, utxo := newTestStoreAndUtxo(t, senderHash)
	n := newTestNode(t, "localhost:4005", []byte("miner-reward-hash"), store, utxo)

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbase := genesis.Transactions[0]

	spend := &ledger.Transaction{
		Vin:  []ledger.TxInput{{Txid: coinbase.ID, Vout: 0, PubKey: wallet.PublicKey()}},
		Vout: []ledger.TxOutput{ledger.NewTxOutput(40, []byte("recipient-hash"))},
	}
	spend.ID = spend.Hash()
	require.NoError(t, spend.Sign(wallet.PrivateKey(), map[string]*ledger.Transaction{coinbase.ID: coinbase}))

	msg := txMsg{AddrFrom: "localhost:9999", Transaction: spend.Serialize()}
	n.handleTx(msg.encode())

	n.mu.Lock()
	mempoolSize := len(n.mempool)
	n.mu.Unlock()
	assert.Zero(t, mempoolSize)

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(1), height)

	found, err := store.FindTransaction(spend.ID)
	require.NoError(t, err)
	assert.Equal(t, spend.ID, found.ID)
}

func TestHandleTxQueuesWithoutMiningWhenNotConfigured(t *testing.T) {
	store, utxo := newTestStoreAndUtxo(t, []byte("someone"))
	n := newTestNode(t, "localhost:4006", nil, store, utxo)

	dummy := ledger.NewCoinbaseTx([]byte("ignored"), "unsigned, never mined")
	msg := txMsg{AddrFrom: "localhost:9999", Transaction: dummy.Serialize()}
	n.handleTx(msg.encode())

	n.mu.Lock()
	mempoolSize := len(n.mempool)
	n.mu.Unlock()
	assert.Equal(t, 1, mempoolSize)

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)
}

func TestResolvePrevTxsSkipsCoinbaseInputs(t *testing.T) {
	store, utxo := newTestStoreAndUtxo(t, []byte("someone"))
	n := newTestNode(t, "localhost:4007", nil, store, utxo)

	coinbase := ledger.NewCoinbaseTx([]byte("someone"), "")
	resolved, err := n.resolvePrevTxs(coinbase)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

// TestMineLoopBroadcastDoesNotDeadlockOnUnreachablePeer guards against a
// self-deadlock: mineLoop holds n.mu across its whole pass, including its
// post-mine broadcast, so that broadcast must never call back into code
// that tries to re-acquire n.mu on a send failure (an unreachable peer is
// the common case at startup, before any peer has actually answered).
func TestMineLoopBroadcastDoesNotDeadlockOnUnreachablePeer(t *testing.T) {
	wallet, err := walletkey.New()
	require.NoError(t, err)
	senderHash := ledger.PublicKeyHash(wallet.PublicKey())

	store, utxo := newTestStoreAndUtxo(t, senderHash)
	n := newTestNode(t, "localhost:4008", []byte("miner-reward-hash"), store, utxo)

	n.mu.Lock()
	n.knownPeers = append(n.knownPeers, "localhost:1")
	n.mu.Unlock()

	tip, err := store.Tip()
	require.NoError(t, err)
	genesis, err := store.GetBlock(tip)
	require.NoError(t, err)
	coinbase := genesis.Transactions[0]

	spend := &ledger.Transaction{
		Vin:  []ledger.TxInput{{Txid: coinbase.ID, Vout: 0, PubKey: wallet.PublicKey()}},
		Vout: []ledger.TxOutput{ledger.NewTxOutput(40, []byte("recipient-hash"))},
	}
	spend.ID = spend.Hash()
	require.NoError(t, spend.Sign(wallet.PrivateKey(), map[string]*ledger.Transaction{coinbase.ID: coinbase}))

	msg := txMsg{AddrFrom: "localhost:9999", Transaction: spend.Serialize()}

	done := make(chan struct{})
	go func() {
		n.handleTx(msg.encode())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("handleTx did not return; mineLoop likely deadlocked broadcasting to an unreachable peer")
	}

	height, err := store.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(1), height)
}
