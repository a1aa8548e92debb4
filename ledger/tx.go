package ledger

import (
	"bytes"

	"github.com/pkg/errors"
)

// TxOutput is an indivisible unit of value locked to a recipient's
// 20-byte address hash (RIPEMD160(SHA256(pub_key))).
type TxOutput struct {
	Value      int32
	PubKeyHash []byte
}

// NewTxOutput builds an output of the given value, already locked to
// pubKeyHash. Address decoding (base58check -> pubKeyHash) is a concern of
// the caller, not of the ledger package — see walletkey.DecodeAddress.
func NewTxOutput(value int32, pubKeyHash []byte) TxOutput {
	return TxOutput{Value: value, PubKeyHash: pubKeyHash}
}

// IsLockedWithKey reports whether pubKeyHash is the hash this output is
// locked to.
func (out TxOutput) IsLockedWithKey(pubKeyHash []byte) bool {
	return bytes.Equal(out.PubKeyHash, pubKeyHash)
}

func (out TxOutput) encode(w *Writer) {
	w.WriteInt32(out.Value)
	w.WriteBytes(out.PubKeyHash)
}

func decodeTxOutput(r *Reader) (TxOutput, error) {
	value, err := r.ReadInt32()
	if err != nil {
		return TxOutput{}, err
	}
	hash, err := r.ReadBytes()
	if err != nil {
		return TxOutput{}, err
	}
	return TxOutput{Value: value, PubKeyHash: hash}, nil
}

// TxInput references a previously produced output that this input spends.
// For a coinbase input, Txid == "" and Vout == -1, and PubKey carries an
// arbitrary data payload rather than a real public key.
type TxInput struct {
	Txid      string
	Vout      int32
	Signature []byte
	PubKey    []byte
}

func (in TxInput) encode(w *Writer) {
	w.WriteString(in.Txid)
	w.WriteInt32(in.Vout)
	w.WriteBytes(in.Signature)
	w.WriteBytes(in.PubKey)
}

func decodeTxInput(r *Reader) (TxInput, error) {
	txid, err := r.ReadString()
	if err != nil {
		return TxInput{}, err
	}
	vout, err := r.ReadInt32()
	if err != nil {
		return TxInput{}, err
	}
	sig, err := r.ReadBytes()
	if err != nil {
		return TxInput{}, err
	}
	pubKey, err := r.ReadBytes()
	if err != nil {
		return TxInput{}, err
	}
	return TxInput{Txid: txid, Vout: vout, Signature: sig, PubKey: pubKey}, nil
}

// UsesKey reports whether pubKeyHash matches the hash of in's raw public
// key — used when scanning for a sender's own spent inputs.
func (in TxInput) UsesKey(pubKeyHash []byte) bool {
	return bytes.Equal(PublicKeyHash(in.PubKey), pubKeyHash)
}

// TxOutputs is the UtxoIndex's stored value for one txid: the surviving
// outputs of that transaction, in their original index order.
type TxOutputs struct {
	Outputs []TxOutput
}

// Serialize encodes a TxOutputs record for storage.
func (outs TxOutputs) Serialize() []byte {
	w := NewWriter()
	w.WriteCount(len(outs.Outputs))
	for _, out := range outs.Outputs {
		out.encode(w)
	}
	return w.Bytes()
}

// DeserializeOutputs decodes a TxOutputs record previously produced by
// Serialize.
func DeserializeOutputs(data []byte) (TxOutputs, error) {
	r := NewReader(data)
	n, err := r.ReadCount()
	if err != nil {
		return TxOutputs{}, errors.Wrap(err, "decode tx outputs count")
	}
	outs := TxOutputs{Outputs: make([]TxOutput, 0, n)}
	for i := 0; i < n; i++ {
		out, err := decodeTxOutput(r)
		if err != nil {
			return TxOutputs{}, errors.Wrap(err, "decode tx output")
		}
		outs.Outputs = append(outs.Outputs, out)
	}
	if err := r.RequireDrained(); err != nil {
		return TxOutputs{}, errors.Wrap(err, "trailing bytes in tx outputs")
	}
	return outs, nil
}
