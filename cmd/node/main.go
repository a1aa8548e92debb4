// Command node runs a single peer of the chain: it opens (or creates) its
// local block store and UTXO index, then serves the gossip protocol until
// terminated.
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"syscall"

	"github.com/vrecan/death/v3"
	"go.uber.org/zap"

	"github.com/golang-powchain/ledger"
	"github.com/golang-powchain/node"
	"github.com/golang-powchain/walletkey"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Sugar()

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		nodeID = "3000"
	}
	address := fmt.Sprintf("localhost:%s", nodeID)

	blocksDir := fmt.Sprintf("data/blocks_%s", nodeID)
	utxoDir := fmt.Sprintf("data/utxos_%s", nodeID)

	var miningPubKeyHash []byte
	if miningAddr := os.Getenv("MINING_ADDRESS"); miningAddr != "" {
		hash, err := walletkey.DecodeAddress(miningAddr)
		if err != nil {
			log.Fatalw("invalid MINING_ADDRESS", "error", err)
		}
		miningPubKeyHash = hash
	}

	store, err := openOrCreateStore(blocksDir, address, miningPubKeyHash, log)
	if err != nil {
		log.Fatalw("open block store", "error", err)
	}

	utxo, err := ledger.NewUtxoIndex(utxoDir, store)
	if err != nil {
		log.Fatalw("open utxo index", "error", err)
	}
	if err := utxo.Reindex(); err != nil {
		log.Fatalw("reindex utxo index", "error", err)
	}

	deathWatcher := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go deathWatcher.WaitForDeathWithFunc(func() {
		log.Info("shutting down")
		store.Close()  //nolint:errcheck
		utxo.Close()   //nolint:errcheck
		os.Exit(0)
	})

	if err := sendOneShot(store, utxo, log); err != nil {
		log.Fatalw("send transaction", "error", err)
	}

	n := node.New(address, miningPubKeyHash, store, utxo, log)
	if err := n.Start(); err != nil {
		log.Fatalw("node stopped", "error", err)
	}
}

// sendOneShot submits a single transaction before the node starts serving,
// if SEND_TO/SEND_AMOUNT/SEND_SEED are all set. This is the wiring point
// for node.SendTransaction — it is not a CLI and takes no arguments.
func sendOneShot(store *ledger.BlockStore, utxo *ledger.UtxoIndex, log *zap.SugaredLogger) error {
	to := os.Getenv("SEND_TO")
	amountStr := os.Getenv("SEND_AMOUNT")
	seedHex := os.Getenv("SEND_SEED")
	if to == "" || amountStr == "" || seedHex == "" {
		return nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return fmt.Errorf("SEND_SEED must be a %d-byte hex seed", ed25519.SeedSize)
	}
	wallet := walletkey.FromPrivateKey(ed25519.NewKeyFromSeed(seed))

	toPubKeyHash, err := walletkey.DecodeAddress(to)
	if err != nil {
		return fmt.Errorf("decode SEND_TO: %w", err)
	}

	var amount int32
	if _, err := fmt.Sscanf(amountStr, "%d", &amount); err != nil {
		return fmt.Errorf("parse SEND_AMOUNT: %w", err)
	}

	tx, err := ledger.NewUTXOTransaction(wallet, toPubKeyHash, amount, utxo, store)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}

	return node.SendTransaction(tx, store, utxo, log)
}

// openOrCreateStore opens an existing block store for nodeID, or creates
// one seeded with a genesis coinbase to genesisPubKeyHash if none exists
// yet. A node with no mining address still needs a genesis recipient, so
// it falls back to its own address-less placeholder hash derived from the
// node address itself.
func openOrCreateStore(dir, address string, genesisPubKeyHash []byte, log *zap.SugaredLogger) (*ledger.BlockStore, error) {
	if store, err := ledger.OpenBlockStore(dir); err == nil {
		log.Infow("continuing existing chain", "dir", dir)
		return store, nil
	}

	if len(genesisPubKeyHash) == 0 {
		genesisPubKeyHash = ledger.PublicKeyHash([]byte(address))
	}
	log.Infow("creating new chain", "dir", dir)
	return ledger.CreateBlockStore(dir, genesisPubKeyHash)
}
