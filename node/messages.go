package node

import (
	"github.com/pkg/errors"

	"github.com/golang-powchain/ledger"
)

const protocolVersion int32 = 1

// versionMsg is exchanged on first contact and whenever a peer believes
// it may be behind: each side advertises its own chain height.
type versionMsg struct {
	Version    int32
	BestHeight int32
	AddrFrom   string
}

func (m versionMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteInt32(m.Version)
	w.WriteInt32(m.BestHeight)
	w.WriteString(m.AddrFrom)
	return w.Bytes()
}

func decodeVersionMsg(data []byte) (versionMsg, error) {
	r := ledger.NewReader(data)
	version, err := r.ReadInt32()
	if err != nil {
		return versionMsg{}, errors.Wrap(err, "decode version.version")
	}
	height, err := r.ReadInt32()
	if err != nil {
		return versionMsg{}, errors.Wrap(err, "decode version.best_height")
	}
	from, err := r.ReadString()
	if err != nil {
		return versionMsg{}, errors.Wrap(err, "decode version.addr_from")
	}
	return versionMsg{Version: version, BestHeight: height, AddrFrom: from}, nil
}

// addrMsg carries a list of peer addresses for discovery.
type addrMsg struct {
	AddrList []string
}

func (m addrMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteCount(len(m.AddrList))
	for _, a := range m.AddrList {
		w.WriteString(a)
	}
	return w.Bytes()
}

func decodeAddrMsg(data []byte) (addrMsg, error) {
	r := ledger.NewReader(data)
	n, err := r.ReadCount()
	if err != nil {
		return addrMsg{}, errors.Wrap(err, "decode addr.count")
	}
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		a, err := r.ReadString()
		if err != nil {
			return addrMsg{}, errors.Wrapf(err, "decode addr.list[%d]", i)
		}
		list = append(list, a)
	}
	return addrMsg{AddrList: list}, nil
}

// getBlockMsg requests a peer's full set of block hashes.
type getBlockMsg struct {
	AddrFrom string
}

func (m getBlockMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteString(m.AddrFrom)
	return w.Bytes()
}

func decodeGetBlockMsg(data []byte) (getBlockMsg, error) {
	r := ledger.NewReader(data)
	from, err := r.ReadString()
	if err != nil {
		return getBlockMsg{}, errors.Wrap(err, "decode getblock.addr_from")
	}
	return getBlockMsg{AddrFrom: from}, nil
}

// invMsg advertises available items (block hashes or tx ids) of one kind.
type invMsg struct {
	AddrFrom string
	Kind     string
	Items    []string
}

func (m invMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteString(m.AddrFrom)
	w.WriteString(m.Kind)
	w.WriteCount(len(m.Items))
	for _, item := range m.Items {
		w.WriteString(item)
	}
	return w.Bytes()
}

func decodeInvMsg(data []byte) (invMsg, error) {
	r := ledger.NewReader(data)
	from, err := r.ReadString()
	if err != nil {
		return invMsg{}, errors.Wrap(err, "decode inv.addr_from")
	}
	kind, err := r.ReadString()
	if err != nil {
		return invMsg{}, errors.Wrap(err, "decode inv.kind")
	}
	n, err := r.ReadCount()
	if err != nil {
		return invMsg{}, errors.Wrap(err, "decode inv.count")
	}
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		item, err := r.ReadString()
		if err != nil {
			return invMsg{}, errors.Wrapf(err, "decode inv.items[%d]", i)
		}
		items = append(items, item)
	}
	return invMsg{AddrFrom: from, Kind: kind, Items: items}, nil
}

// getDataMsg requests one specific block or transaction by id.
type getDataMsg struct {
	AddrFrom string
	Kind     string
	ID       string
}

func (m getDataMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteString(m.AddrFrom)
	w.WriteString(m.Kind)
	w.WriteString(m.ID)
	return w.Bytes()
}

func decodeGetDataMsg(data []byte) (getDataMsg, error) {
	r := ledger.NewReader(data)
	from, err := r.ReadString()
	if err != nil {
		return getDataMsg{}, errors.Wrap(err, "decode getdata.addr_from")
	}
	kind, err := r.ReadString()
	if err != nil {
		return getDataMsg{}, errors.Wrap(err, "decode getdata.kind")
	}
	id, err := r.ReadString()
	if err != nil {
		return getDataMsg{}, errors.Wrap(err, "decode getdata.id")
	}
	return getDataMsg{AddrFrom: from, Kind: kind, ID: id}, nil
}

// blockMsg carries one serialized block.
type blockMsg struct {
	AddrFrom string
	Block    []byte
}

func (m blockMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteString(m.AddrFrom)
	w.WriteBytes(m.Block)
	return w.Bytes()
}

func decodeBlockMsg(data []byte) (blockMsg, error) {
	r := ledger.NewReader(data)
	from, err := r.ReadString()
	if err != nil {
		return blockMsg{}, errors.Wrap(err, "decode block.addr_from")
	}
	block, err := r.ReadBytes()
	if err != nil {
		return blockMsg{}, errors.Wrap(err, "decode block.block")
	}
	return blockMsg{AddrFrom: from, Block: block}, nil
}

// txMsg carries one serialized transaction.
type txMsg struct {
	AddrFrom    string
	Transaction []byte
}

func (m txMsg) encode() []byte {
	w := ledger.NewWriter()
	w.WriteString(m.AddrFrom)
	w.WriteBytes(m.Transaction)
	return w.Bytes()
}

func decodeTxMsg(data []byte) (txMsg, error) {
	r := ledger.NewReader(data)
	from, err := r.ReadString()
	if err != nil {
		return txMsg{}, errors.Wrap(err, "decode tx.addr_from")
	}
	txData, err := r.ReadBytes()
	if err != nil {
		return txMsg{}, errors.Wrap(err, "decode tx.transaction")
	}
	return txMsg{AddrFrom: from, Transaction: txData}, nil
}
