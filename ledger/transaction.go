package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/golang-powchain/ledger/errkind"
)

// CoinbaseReward is the fixed payout of a mined block's coinbase output.
const CoinbaseReward int32 = 100

// Transaction moves value from inputs (references to outputs already on
// chain) to outputs (new, as-yet-unspent value). ID is always the hash of
// Vin+Vout with the id itself excluded from that hash.
type Transaction struct {
	ID   string
	Vin  []TxInput
	Vout []TxOutput
}

// Signer is the minimal capability a caller needs to produce a spend
// transaction: a keypair. Address/base58 concerns live outside the ledger
// package, in walletkey.
type Signer interface {
	PublicKey() ed25519.PublicKey
	PrivateKey() ed25519.PrivateKey
}

// PublicKeyHash derives the 20-byte address hash for a raw public key:
// RIPEMD160(SHA256(pubKey)).
func PublicKeyHash(pubKey []byte) []byte {
	sum := sha256.Sum256(pubKey)
	hasher := ripemd160.New()
	hasher.Write(sum[:]) //nolint:errcheck // ripemd160.Write never errors
	return hasher.Sum(nil)
}

// IsCoinbase reports whether tx is the reward transaction of a mined
// block: exactly one input with an empty txid and vout -1.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && tx.Vin[0].Txid == "" && tx.Vin[0].Vout == -1
}

// Hash returns the hex-encoded SHA-256 of tx's inputs and outputs, with the
// id itself never part of the preimage.
func (tx *Transaction) Hash() string {
	sum := sha256.Sum256(tx.bodyBytes())
	return hex.EncodeToString(sum[:])
}

func (tx *Transaction) bodyBytes() []byte {
	w := NewWriter()
	w.WriteCount(len(tx.Vin))
	for _, in := range tx.Vin {
		in.encode(w)
	}
	w.WriteCount(len(tx.Vout))
	for _, out := range tx.Vout {
		out.encode(w)
	}
	return w.Bytes()
}

func (tx *Transaction) encode(w *Writer) {
	w.WriteString(tx.ID)
	w.WriteCount(len(tx.Vin))
	for _, in := range tx.Vin {
		in.encode(w)
	}
	w.WriteCount(len(tx.Vout))
	for _, out := range tx.Vout {
		out.encode(w)
	}
}

func decodeTransaction(r *Reader) (*Transaction, error) {
	id, err := r.ReadString()
	if err != nil {
		return nil, errors.Wrap(err, "decode tx id")
	}
	ninputs, err := r.ReadCount()
	if err != nil {
		return nil, errors.Wrap(err, "decode tx vin count")
	}
	vin := make([]TxInput, 0, ninputs)
	for i := 0; i < ninputs; i++ {
		in, err := decodeTxInput(r)
		if err != nil {
			return nil, errors.Wrapf(err, "decode tx vin %d", i)
		}
		vin = append(vin, in)
	}
	noutputs, err := r.ReadCount()
	if err != nil {
		return nil, errors.Wrap(err, "decode tx vout count")
	}
	vout := make([]TxOutput, 0, noutputs)
	for i := 0; i < noutputs; i++ {
		out, err := decodeTxOutput(r)
		if err != nil {
			return nil, errors.Wrapf(err, "decode tx vout %d", i)
		}
		vout = append(vout, out)
	}
	return &Transaction{ID: id, Vin: vin, Vout: vout}, nil
}

// Serialize encodes tx for wire transmission or storage.
func (tx *Transaction) Serialize() []byte {
	w := NewWriter()
	tx.encode(w)
	return w.Bytes()
}

// DeserializeTransaction decodes a transaction previously produced by
// Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	r := NewReader(data)
	tx, err := decodeTransaction(r)
	if err != nil {
		return nil, err
	}
	if err := r.RequireDrained(); err != nil {
		return nil, errors.Wrap(err, "trailing bytes in transaction")
	}
	return tx, nil
}

// NewCoinbaseTx builds the reward transaction for a mined block: one
// input carrying an arbitrary data payload, one output of CoinbaseReward
// locked to toPubKeyHash. With empty data the payload is "Reward to <hash>"
// followed by random bytes, so repeated rewards to the same address get
// distinct ids.
func NewCoinbaseTx(toPubKeyHash []byte, data string) *Transaction {
	payload := []byte(data)
	if data == "" {
		salt := make([]byte, 20)
		rand.Read(salt) //nolint:errcheck // crypto/rand.Read never returns an error
		payload = append([]byte(fmt.Sprintf("Reward to %s", hex.EncodeToString(toPubKeyHash))), salt...)
	}
	tx := &Transaction{
		Vin: []TxInput{{
			Txid:   "",
			Vout:   -1,
			PubKey: payload,
		}},
		Vout: []TxOutput{NewTxOutput(CoinbaseReward, toPubKeyHash)},
	}
	tx.ID = tx.Hash()
	return tx
}

// PrevTxLookup resolves a txid to the transaction that produced it — the
// BlockStore is the canonical implementation, via FindTransaction.
type PrevTxLookup interface {
	FindTransaction(id string) (*Transaction, error)
}

// SpendableLookup selects enough unspent outputs locked to a pubkey hash
// to cover a requested amount — the UtxoIndex is the canonical
// implementation, via FindSpendableOutputs.
type SpendableLookup interface {
	FindSpendableOutputs(pubKeyHash []byte, amount int32) (int32, map[string][]int, error)
}

// NewUTXOTransaction constructs and signs a spend of amount to
// toPubKeyHash from signer's own outputs in utxo, consuming just enough
// spendable outputs to cover it and returning change to the sender.
func NewUTXOTransaction(signer Signer, toPubKeyHash []byte, amount int32, utxo SpendableLookup, prevTxs PrevTxLookup) (*Transaction, error) {
	fromPubKeyHash := PublicKeyHash(signer.PublicKey())

	acc, selected, err := utxo.FindSpendableOutputs(fromPubKeyHash, amount)
	if err != nil {
		return nil, err
	}
	if acc < amount {
		return nil, errors.Wrapf(errkind.ErrInsufficientFunds, "need %d, have %d", amount, acc)
	}

	var vin []TxInput
	for txid, outIdxs := range selected {
		for _, outIdx := range outIdxs {
			vin = append(vin, TxInput{
				Txid:   txid,
				Vout:   int32(outIdx),
				PubKey: signer.PublicKey(),
			})
		}
	}

	vout := []TxOutput{NewTxOutput(amount, toPubKeyHash)}
	if acc > amount {
		vout = append(vout, NewTxOutput(acc-amount, fromPubKeyHash))
	}

	tx := &Transaction{Vin: vin, Vout: vout}
	tx.ID = tx.Hash()

	resolved, err := resolvePrevTxs(tx, prevTxs)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(signer.PrivateKey(), resolved); err != nil {
		return nil, err
	}
	return tx, nil
}

func resolvePrevTxs(tx *Transaction, lookup PrevTxLookup) (map[string]*Transaction, error) {
	resolved := make(map[string]*Transaction, len(tx.Vin))
	for _, in := range tx.Vin {
		if _, ok := resolved[in.Txid]; ok {
			continue
		}
		prevTx, err := lookup.FindTransaction(in.Txid)
		if err != nil {
			return nil, err
		}
		resolved[in.Txid] = prevTx
	}
	return resolved, nil
}

// TrimmedCopy returns a structural copy of tx with every input's signature
// and public key erased. It shares no backing arrays with tx, so mutating
// the copy during signing/verification never touches the original.
func (tx *Transaction) TrimmedCopy() *Transaction {
	vin := make([]TxInput, len(tx.Vin))
	for i, in := range tx.Vin {
		vin[i] = TxInput{Txid: in.Txid, Vout: in.Vout}
	}
	vout := make([]TxOutput, len(tx.Vout))
	for i, out := range tx.Vout {
		vout[i] = TxOutput{Value: out.Value, PubKeyHash: out.PubKeyHash}
	}
	return &Transaction{ID: tx.ID, Vin: vin, Vout: vout}
}

// Sign produces, for each input, an Ed25519 signature over a trimmed-copy
// id that is specific to the output that input claims — binding the
// signature to that one predecessor rather than to the transaction as a
// whole. Coinbase transactions are not signed.
func (tx *Transaction) Sign(privateKey ed25519.PrivateKey, prevTxs map[string]*Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}

	for _, in := range tx.Vin {
		if prevTxs[in.Txid] == nil {
			return errors.Wrapf(errkind.ErrInvalidTransaction, "previous transaction %s not found", in.Txid)
		}
	}

	trimmed := tx.TrimmedCopy()
	for i, in := range trimmed.Vin {
		prevTx := prevTxs[in.Txid]
		if int(in.Vout) < 0 || int(in.Vout) >= len(prevTx.Vout) {
			return errors.Wrapf(errkind.ErrInvalidTransaction, "input %d references out-of-range output %d", i, in.Vout)
		}

		trimmed.Vin[i].PubKey = prevTx.Vout[in.Vout].PubKeyHash
		trimmed.ID = trimmed.Hash()
		trimmed.Vin[i].PubKey = nil

		tx.Vin[i].Signature = ed25519.Sign(privateKey, []byte(trimmed.ID))
	}
	return nil
}

// Verify mirrors Sign: for each input, it reconstructs the trimmed-copy id
// that should have been signed and checks the stored signature against it.
// Coinbase transactions always verify.
func (tx *Transaction) Verify(prevTxs map[string]*Transaction) (bool, error) {
	if tx.IsCoinbase() {
		return true, nil
	}

	for _, in := range tx.Vin {
		if prevTxs[in.Txid] == nil {
			return false, errors.Wrapf(errkind.ErrInvalidTransaction, "previous transaction %s not found", in.Txid)
		}
	}

	trimmed := tx.TrimmedCopy()
	for i, in := range tx.Vin {
		prevTx := prevTxs[in.Txid]
		if int(in.Vout) < 0 || int(in.Vout) >= len(prevTx.Vout) {
			return false, errors.Wrapf(errkind.ErrInvalidTransaction, "input %d references out-of-range output %d", i, in.Vout)
		}

		trimmed.Vin[i].Signature = nil
		trimmed.Vin[i].PubKey = prevTx.Vout[in.Vout].PubKeyHash
		trimmed.ID = trimmed.Hash()
		trimmed.Vin[i].PubKey = nil

		if len(in.PubKey) != ed25519.PublicKeySize {
			return false, nil
		}
		if !ed25519.Verify(in.PubKey, []byte(trimmed.ID), in.Signature) {
			return false, nil
		}
	}
	return true, nil
}

// String renders tx for logging.
func (tx *Transaction) String() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("--- Transaction %s:", tx.ID))
	for i, in := range tx.Vin {
		lines = append(lines, fmt.Sprintf("     Input %d: txid=%s vout=%d", i, in.Txid, in.Vout))
	}
	for i, out := range tx.Vout {
		lines = append(lines, fmt.Sprintf("     Output %d: value=%d pubKeyHash=%x", i, out.Value, out.PubKeyHash))
	}
	return strings.Join(lines, "\n")
}
