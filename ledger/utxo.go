package ledger

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

var utxoPrefix = []byte("utxo-")

// UtxoIndex is a secondary index over a BlockStore's chain: txid -> the
// outputs of that transaction which remain unspent. It exists purely as
// an accelerator; FindUTXO on the BlockStore is always the source of
// truth and Reindex can rebuild this from scratch at any time.
type UtxoIndex struct {
	db    *badger.DB
	chain *BlockStore
}

// NewUtxoIndex opens (or creates) the index database at dir over chain.
func NewUtxoIndex(dir string, chain *BlockStore) (*UtxoIndex, error) {
	db, err := openBadger(dir)
	if err != nil {
		return nil, err
	}
	return &UtxoIndex{db: db, chain: chain}, nil
}

// Close releases the underlying database handle.
func (u *UtxoIndex) Close() error {
	return u.db.Close()
}

// Reindex discards whatever is currently stored and rebuilds the entire
// index from a full scan of the chain.
func (u *UtxoIndex) Reindex() error {
	if err := u.deleteByPrefix(utxoPrefix); err != nil {
		return err
	}

	utxo, err := u.chain.FindUTXO()
	if err != nil {
		return err
	}

	return u.db.Update(func(txn *badger.Txn) error {
		for txid, outs := range utxo {
			key := append(append([]byte{}, utxoPrefix...), []byte(txid)...)
			if err := txn.Set(key, outs.Serialize()); err != nil {
				return errors.Wrapf(err, "store utxo entry for %s", txid)
			}
		}
		return nil
	})
}

// Update applies the effect of a single newly-accepted block to the
// index: inputs spent by the block's transactions remove the outputs
// they claim, and the block's transactions' own outputs are added.
func (u *UtxoIndex) Update(block *Block) error {
	return u.db.Update(func(txn *badger.Txn) error {
		for _, tx := range block.Transactions {
			if !tx.IsCoinbase() {
				for _, in := range tx.Vin {
					key := append(append([]byte{}, utxoPrefix...), []byte(in.Txid)...)

					item, err := txn.Get(key)
					if errors.Is(err, badger.ErrKeyNotFound) {
						continue
					}
					if err != nil {
						return errors.Wrap(err, "read utxo entry for spent input")
					}
					var outs TxOutputs
					if err := item.Value(func(val []byte) error {
						decoded, err := DeserializeOutputs(val)
						if err != nil {
							return err
						}
						outs = decoded
						return nil
					}); err != nil {
						return err
					}

					var remaining TxOutputs
					for outIdx, out := range outs.Outputs {
						if int32(outIdx) != in.Vout {
							remaining.Outputs = append(remaining.Outputs, out)
						}
					}

					if len(remaining.Outputs) == 0 {
						if err := txn.Delete(key); err != nil {
							return errors.Wrap(err, "delete exhausted utxo entry")
						}
					} else if err := txn.Set(key, remaining.Serialize()); err != nil {
						return errors.Wrap(err, "update utxo entry")
					}
				}
			}

			key := append(append([]byte{}, utxoPrefix...), []byte(tx.ID)...)
			newOuts := TxOutputs{Outputs: tx.Vout}
			if err := txn.Set(key, newOuts.Serialize()); err != nil {
				return errors.Wrapf(err, "store new utxo entry for %s", tx.ID)
			}
		}
		return nil
	})
}

// FindSpendableOutputs selects just enough of pubKeyHash's unspent
// outputs to cover amount, returning the total value accumulated and the
// chosen output indices keyed by txid. The accumulated total may exceed
// amount; it is never less unless the caller's balance genuinely falls
// short.
func (u *UtxoIndex) FindSpendableOutputs(pubKeyHash []byte, amount int32) (int32, map[string][]int, error) {
	selected := make(map[string][]int)
	var accumulated int32

	err := u.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(utxoPrefix); it.ValidForPrefix(utxoPrefix) && accumulated < amount; it.Next() {
			item := it.Item()
			txid := string(bytes.TrimPrefix(item.Key(), utxoPrefix))

			var outs TxOutputs
			if err := item.Value(func(val []byte) error {
				decoded, err := DeserializeOutputs(val)
				if err != nil {
					return err
				}
				outs = decoded
				return nil
			}); err != nil {
				return err
			}

			for outIdx, out := range outs.Outputs {
				if accumulated >= amount {
					break
				}
				if out.IsLockedWithKey(pubKeyHash) {
					accumulated += out.Value
					selected[txid] = append(selected[txid], outIdx)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return accumulated, selected, nil
}

// FindUTXO returns every unspent output locked to pubKeyHash — the basis
// for a wallet balance.
func (u *UtxoIndex) FindUTXO(pubKeyHash []byte) ([]TxOutput, error) {
	var owned []TxOutput

	err := u.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(utxoPrefix); it.ValidForPrefix(utxoPrefix); it.Next() {
			item := it.Item()
			var outs TxOutputs
			if err := item.Value(func(val []byte) error {
				decoded, err := DeserializeOutputs(val)
				if err != nil {
					return err
				}
				outs = decoded
				return nil
			}); err != nil {
				return err
			}
			for _, out := range outs.Outputs {
				if out.IsLockedWithKey(pubKeyHash) {
					owned = append(owned, out)
				}
			}
		}
		return nil
	})
	return owned, err
}

// Count returns the number of transactions with at least one unspent
// output currently tracked by the index.
func (u *UtxoIndex) Count() (int, error) {
	count := 0
	err := u.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(utxoPrefix); it.ValidForPrefix(utxoPrefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (u *UtxoIndex) deleteByPrefix(prefix []byte) error {
	const batchSize = 1000

	collect := func() ([][]byte, error) {
		var keys [][]byte
		err := u.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < batchSize; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		return keys, err
	}

	for {
		keys, err := collect()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		err = u.db.Update(func(txn *badger.Txn) error {
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "delete utxo batch")
		}
	}
}
