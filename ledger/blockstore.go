package ledger

import (
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/golang-powchain/ledger/errkind"
)

// tipKey is the distinguished key under which the current chain tip's hash
// is stored; every other key in the store is a block hash.
var tipKey = []byte("LAST")

// BlockStore is the append-only, hash-keyed store of blocks backing a
// node's chain. Blocks are never rewritten once stored; the tip pointer
// is the only mutable entry.
type BlockStore struct {
	db *badger.DB
}

// CreateBlockStore deletes whatever is stored at dir, opens a fresh store
// there and seeds it with a genesis block paying coinbase to
// genesisPubKeyHash. Any chain previously held in dir is discarded.
func CreateBlockStore(dir string, genesisPubKeyHash []byte) (*BlockStore, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, errors.Wrapf(err, "remove existing block store at %s", dir)
	}
	db, err := openBadger(dir)
	if err != nil {
		return nil, err
	}

	store := &BlockStore{db: db}

	err = db.Update(func(txn *badger.Txn) error {
		coinbase := NewCoinbaseTx(genesisPubKeyHash, "Genesis Block")
		genesis := NewGenesisBlock(coinbase)

		if err := txn.Set([]byte(genesis.Hash), genesis.Serialize()); err != nil {
			return errors.Wrap(err, "store genesis block")
		}
		return txn.Set(tipKey, []byte(genesis.Hash))
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenBlockStore opens a store previously created with CreateBlockStore.
func OpenBlockStore(dir string) (*BlockStore, error) {
	db, err := openBadger(dir)
	if err != nil {
		return nil, err
	}
	store := &BlockStore{db: db}
	if _, err := store.Tip(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open block store at %s", dir)
	}
	return db, nil
}

// Close releases the underlying database handle.
func (s *BlockStore) Close() error {
	return s.db.Close()
}

// Tip returns the hash of the current chain tip.
func (s *BlockStore) Tip() (string, error) {
	var tip string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tipKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrap(errkind.ErrStoreMissing, "block store has no tip; create it first")
		}
		if err != nil {
			return errors.Wrap(err, "read tip pointer")
		}
		return item.Value(func(val []byte) error {
			tip = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return tip, nil
}

// GetBlock looks up a single block by hash.
func (s *BlockStore) GetBlock(hash string) (*Block, error) {
	var block *Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(errkind.ErrNotFound, "block %s", hash)
		}
		if err != nil {
			return errors.Wrap(err, "read block")
		}
		return item.Value(func(val []byte) error {
			b, err := DeserializeBlock(val)
			if err != nil {
				return err
			}
			block = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// Has reports whether hash is already present in the store.
func (s *BlockStore) Has(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// GetBestHeight returns the height of the current chain tip.
func (s *BlockStore) GetBestHeight() (int32, error) {
	tip, err := s.Tip()
	if err != nil {
		return 0, err
	}
	block, err := s.GetBlock(tip)
	if err != nil {
		return 0, err
	}
	return block.Height, nil
}

// MineBlock verifies every non-coinbase transaction in txs against the
// chain as it currently stands, then seals txs into a new block chained
// after the current tip and persists it, advancing the tip unconditionally.
// A transaction that fails verification — because a previous transaction it
// references is missing, its signature does not check out, or it spends an
// output already claimed on chain or earlier in this same batch — aborts
// the whole call before anything is mined or persisted.
func (s *BlockStore) MineBlock(txs []*Transaction) (*Block, error) {
	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	tipBlock, err := s.GetBlock(tip)
	if err != nil {
		return nil, err
	}

	spent, err := s.spentOutputs()
	if err != nil {
		return nil, err
	}

	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		prevTxs, err := resolvePrevTxs(tx, s)
		if err != nil {
			return nil, errors.Wrapf(errkind.ErrInvalidTransaction, "resolve prev txs for %s: %v", tx.ID, err)
		}
		ok, err := tx.Verify(prevTxs)
		if err != nil {
			return nil, errors.Wrapf(errkind.ErrInvalidTransaction, "verify %s: %v", tx.ID, err)
		}
		if !ok {
			return nil, errors.Wrapf(errkind.ErrInvalidTransaction, "signature check failed for %s", tx.ID)
		}

		for _, in := range tx.Vin {
			if spent[in.Txid] != nil && spent[in.Txid][in.Vout] {
				return nil, errors.Wrapf(errkind.ErrInvalidTransaction, "double-spend of %s:%d", in.Txid, in.Vout)
			}
			if spent[in.Txid] == nil {
				spent[in.Txid] = make(map[int32]bool)
			}
			spent[in.Txid][in.Vout] = true
		}
	}

	block := NewBlock(txs, tip, tipBlock.Height+1)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(block.Hash), block.Serialize()); err != nil {
			return errors.Wrap(err, "store mined block")
		}
		return txn.Set(tipKey, []byte(block.Hash))
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.Sync(); err != nil {
		return nil, errors.Wrap(err, "sync after mined block")
	}
	return block, nil
}

// AddBlock inserts a block received from a peer. It is a no-op if the
// block is already stored. The tip only advances when block is strictly
// taller than the current tip — the longest-chain rule.
func (s *BlockStore) AddBlock(block *Block) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(block.Hash)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrap(err, "probe for existing block")
		}

		if err := txn.Set([]byte(block.Hash), block.Serialize()); err != nil {
			return errors.Wrap(err, "store received block")
		}

		item, err := txn.Get(tipKey)
		if err != nil {
			return errors.Wrap(err, "read tip pointer")
		}
		var tip string
		if err := item.Value(func(val []byte) error { tip = string(val); return nil }); err != nil {
			return err
		}
		tipItem, err := txn.Get([]byte(tip))
		if err != nil {
			return errors.Wrap(err, "read tip block")
		}
		var tipBlock *Block
		if err := tipItem.Value(func(val []byte) error {
			b, err := DeserializeBlock(val)
			if err != nil {
				return err
			}
			tipBlock = b
			return nil
		}); err != nil {
			return err
		}

		if tipBlock.Height < block.Height {
			return txn.Set(tipKey, []byte(block.Hash))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.db.Sync()
}

// GetBlockHashes returns every block hash from the tip back to genesis,
// newest first.
func (s *BlockStore) GetBlockHashes() ([]string, error) {
	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	var hashes []string
	iter := s.Iterator(tip)
	for {
		block, err := iter.Next()
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, block.Hash)
		if block.IsGenesis() {
			break
		}
	}
	return hashes, nil
}

// FindTransaction scans the chain for the transaction with the given id.
// It satisfies ledger.PrevTxLookup.
func (s *BlockStore) FindTransaction(id string) (*Transaction, error) {
	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	iter := s.Iterator(tip)
	for {
		block, err := iter.Next()
		if err != nil {
			return nil, err
		}
		for _, tx := range block.Transactions {
			if tx.ID == id {
				return tx, nil
			}
		}
		if block.IsGenesis() {
			break
		}
	}
	return nil, errors.Wrapf(errkind.ErrNotFound, "transaction %s", id)
}

// FindUTXO scans the entire chain and returns, for every transaction id,
// the outputs of that transaction which remain unspent. Traversal runs
// tip-to-genesis so that spending transactions are always seen before the
// outputs they consume.
func (s *BlockStore) FindUTXO() (map[string]TxOutputs, error) {
	utxo := make(map[string]TxOutputs)
	spent := make(map[string][]int32)

	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	iter := s.Iterator(tip)

	for {
		block, err := iter.Next()
		if err != nil {
			return nil, err
		}

		for _, tx := range block.Transactions {
		Outputs:
			for outIdx, out := range tx.Vout {
				for _, spentIdx := range spent[tx.ID] {
					if spentIdx == int32(outIdx) {
						continue Outputs
					}
				}
				entry := utxo[tx.ID]
				entry.Outputs = append(entry.Outputs, out)
				utxo[tx.ID] = entry
			}

			if !tx.IsCoinbase() {
				for _, in := range tx.Vin {
					spent[in.Txid] = append(spent[in.Txid], in.Vout)
				}
			}
		}

		if block.IsGenesis() {
			break
		}
	}

	return utxo, nil
}

// spentOutputs scans the entire chain and returns, per txid, the set of
// output indices already claimed by some later input. It is the chain-wide
// double-spend ledger MineBlock checks new transactions against.
func (s *BlockStore) spentOutputs() (map[string]map[int32]bool, error) {
	spent := make(map[string]map[int32]bool)

	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	iter := s.Iterator(tip)

	for {
		block, err := iter.Next()
		if err != nil {
			return nil, err
		}
		for _, tx := range block.Transactions {
			if tx.IsCoinbase() {
				continue
			}
			for _, in := range tx.Vin {
				if spent[in.Txid] == nil {
					spent[in.Txid] = make(map[int32]bool)
				}
				spent[in.Txid][in.Vout] = true
			}
		}
		if block.IsGenesis() {
			break
		}
	}

	return spent, nil
}

// Iterator walks the chain backwards from start toward genesis.
type Iterator struct {
	current string
	store   *BlockStore
}

// Iterator returns a chain walker seeded at start (typically the tip).
func (s *BlockStore) Iterator(start string) *Iterator {
	return &Iterator{current: start, store: s}
}

// Next returns the current block and advances toward its predecessor.
// Calling Next again after the genesis block has been returned is an
// error — callers should check Block.IsGenesis and stop.
func (it *Iterator) Next() (*Block, error) {
	if it.current == "" {
		return nil, errors.Wrap(errkind.ErrNotFound, "iterator exhausted past genesis")
	}
	block, err := it.store.GetBlock(it.current)
	if err != nil {
		return nil, err
	}
	it.current = block.PrevBlockHash
	return block, nil
}
