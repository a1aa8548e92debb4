package node

import (
	"io"
	"net"

	"github.com/golang-powchain/ledger"
)

// handleConnection reads one connection to EOF, parses exactly one
// message, dispatches it, and returns — whether or not dispatch
// succeeded. A failure here never brings down the listener.
func (n *Node) handleConnection(conn net.Conn) {
	defer conn.Close()

	raw, err := io.ReadAll(conn)
	if err != nil {
		n.log.Errorw("read connection", "error", err)
		return
	}

	cmd, body, err := readFrame(raw)
	if err != nil {
		n.log.Warnw("malformed frame", "error", err)
		return
	}

	switch cmd {
	case "version":
		n.handleVersion(body)
	case "addr":
		n.handleAddr(body)
	case "getblock":
		n.handleGetBlock(body)
	case "inv":
		n.handleInv(body)
	case "getdata":
		n.handleGetData(body)
	case "block":
		n.handleBlockMsg(body)
	case "tx":
		n.handleTx(body)
	default:
		n.log.Warnw("unknown command", "command", cmd)
	}
}

func (n *Node) handleVersion(body []byte) {
	msg, err := decodeVersionMsg(body)
	if err != nil {
		n.log.Warnw("decode version", "error", err)
		return
	}

	myHeight, err := n.store.GetBestHeight()
	if err != nil {
		n.log.Warnw("read local height", "error", err)
		return
	}

	if myHeight < msg.BestHeight {
		n.sendGetBlock(msg.AddrFrom)
	} else if myHeight > msg.BestHeight {
		n.sendVersion(msg.AddrFrom, myHeight)
	}

	n.mu.Lock()
	peers := append([]string(nil), n.knownPeers...)
	known := false
	for _, p := range n.knownPeers {
		if p == msg.AddrFrom {
			known = true
			break
		}
	}
	if !known {
		n.knownPeers = append(n.knownPeers, msg.AddrFrom)
	}
	n.mu.Unlock()

	n.sendAddr(msg.AddrFrom, peers)
}

func (n *Node) handleAddr(body []byte) {
	msg, err := decodeAddrMsg(body)
	if err != nil {
		n.log.Warnw("decode addr", "error", err)
		return
	}

	n.mu.Lock()
	n.knownPeers = append(n.knownPeers, msg.AddrList...)
	count := len(n.knownPeers)
	n.mu.Unlock()

	n.log.Infow("known peers updated", "count", count)
}

func (n *Node) handleGetBlock(body []byte) {
	msg, err := decodeGetBlockMsg(body)
	if err != nil {
		n.log.Warnw("decode getblock", "error", err)
		return
	}

	hashes, err := n.store.GetBlockHashes()
	if err != nil {
		n.log.Warnw("list block hashes", "error", err)
		return
	}
	n.sendInv(msg.AddrFrom, "block", hashes)
}

func (n *Node) handleInv(body []byte) {
	msg, err := decodeInvMsg(body)
	if err != nil {
		n.log.Warnw("decode inv", "error", err)
		return
	}
	if len(msg.Items) == 0 {
		return
	}

	switch msg.Kind {
	case "block":
		n.mu.Lock()
		for _, item := range msg.Items {
			inTransit := false
			for _, h := range n.blocksInTransit {
				if h == item {
					inTransit = true
					break
				}
			}
			if !inTransit {
				n.blocksInTransit = append(n.blocksInTransit, item)
			}
		}
		n.mu.Unlock()
		n.sendGetData(msg.AddrFrom, "block", msg.Items[0])

		n.mu.Lock()
		var remaining []string
		for _, h := range n.blocksInTransit {
			if h != msg.Items[0] {
				remaining = append(remaining, h)
			}
		}
		n.blocksInTransit = remaining
		n.mu.Unlock()

	case "tx":
		txID := msg.Items[0]
		n.mu.Lock()
		_, have := n.mempool[txID]
		n.mu.Unlock()
		if !have {
			n.sendGetData(msg.AddrFrom, "tx", txID)
		}
	}
}

func (n *Node) handleGetData(body []byte) {
	msg, err := decodeGetDataMsg(body)
	if err != nil {
		n.log.Warnw("decode getdata", "error", err)
		return
	}

	switch msg.Kind {
	case "block":
		block, err := n.store.GetBlock(msg.ID)
		if err != nil {
			n.log.Warnw("getdata: block not found", "id", msg.ID, "error", err)
			return
		}
		n.sendBlock(msg.AddrFrom, block)

	case "tx":
		n.mu.Lock()
		tx, ok := n.mempool[msg.ID]
		n.mu.Unlock()
		if !ok {
			n.log.Warnw("getdata: tx not in mempool", "id", msg.ID)
			return
		}
		n.sendTx(msg.AddrFrom, tx)
	}
}

func (n *Node) handleBlockMsg(body []byte) {
	msg, err := decodeBlockMsg(body)
	if err != nil {
		n.log.Warnw("decode block", "error", err)
		return
	}

	block, err := ledger.DeserializeBlock(msg.Block)
	if err != nil {
		n.log.Warnw("deserialize received block", "error", err)
		return
	}

	if err := n.store.AddBlock(block); err != nil {
		n.log.Warnw("add received block", "error", err)
		return
	}
	n.log.Infow("added block", "hash", block.Hash, "height", block.Height)

	n.mu.Lock()
	var next string
	if len(n.blocksInTransit) > 0 {
		next = n.blocksInTransit[0]
		n.blocksInTransit = n.blocksInTransit[1:]
	}
	transitEmpty := len(n.blocksInTransit) == 0
	n.mu.Unlock()

	if next != "" {
		n.sendGetData(msg.AddrFrom, "block", next)
		return
	}
	if transitEmpty {
		if err := n.utxo.Reindex(); err != nil {
			n.log.Warnw("reindex after sync", "error", err)
		}
	}
}

func (n *Node) handleTx(body []byte) {
	msg, err := decodeTxMsg(body)
	if err != nil {
		n.log.Warnw("decode tx", "error", err)
		return
	}

	tx, err := ledger.DeserializeTransaction(msg.Transaction)
	if err != nil {
		n.log.Warnw("deserialize received tx", "error", err)
		return
	}

	n.mu.Lock()
	n.mempool[tx.ID] = tx
	mempoolSize := len(n.mempool)
	n.mu.Unlock()

	n.log.Infow("received transaction", "from", msg.AddrFrom, "mempool_size", mempoolSize)

	if n.isBootstrap() {
		n.mu.Lock()
		peers := append([]string(nil), n.knownPeers...)
		n.mu.Unlock()
		for _, peer := range peers {
			if peer != n.address && peer != msg.AddrFrom {
				n.sendInv(peer, "tx", []string{tx.ID})
			}
		}
		return
	}

	if mempoolSize > 0 && n.IsMining() {
		n.mineLoop()
	}
}

// mineLoop drains the mempool one block at a time: every verifying
// transaction currently queued is bundled with a fresh coinbase, mined,
// and broadcast, repeating until the mempool is empty or a pass mines
// nothing. The node mutex is held for the whole operation, including
// proof-of-work — this node is small enough that serializing mining
// against every other handler is the simpler and intended tradeoff.
func (n *Node) mineLoop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		if len(n.mempool) == 0 {
			return
		}

		var minedIDs []string
		var txs []*ledger.Transaction
		for id, tx := range n.mempool {
			prevTxs, err := n.resolvePrevTxs(tx)
			if err != nil {
				n.log.Warnw("mining: resolve prev txs", "tx", id, "error", err)
				continue
			}
			ok, err := tx.Verify(prevTxs)
			if err != nil || !ok {
				n.log.Warnw("mining: drop unverified tx", "tx", id, "error", err)
				continue
			}
			txs = append(txs, tx)
			minedIDs = append(minedIDs, id)
		}

		if len(txs) == 0 {
			n.log.Warnw("mining: no valid transactions this pass")
			return
		}

		txs = append(txs, ledger.NewCoinbaseTx(n.miningPubKeyHash, ""))

		block, err := n.store.MineBlock(txs)
		if err != nil {
			n.log.Warnw("mine block", "error", err)
			return
		}
		if err := n.utxo.Reindex(); err != nil {
			n.log.Warnw("reindex after mine", "error", err)
		}
		n.log.Infow("mined block", "hash", block.Hash, "height", block.Height, "txs", len(txs))

		for _, id := range minedIDs {
			delete(n.mempool, id)
		}
		peers := append([]string(nil), n.knownPeers...)

		for _, peer := range peers {
			if peer != n.address {
				n.sendInvLocked(peer, "block", []string{block.Hash})
			}
		}

		if len(n.mempool) == 0 {
			return
		}
	}
}

func (n *Node) resolvePrevTxs(tx *ledger.Transaction) (map[string]*ledger.Transaction, error) {
	resolved := make(map[string]*ledger.Transaction, len(tx.Vin))
	for _, in := range tx.Vin {
		if in.Txid == "" {
			continue
		}
		if _, ok := resolved[in.Txid]; ok {
			continue
		}
		prevTx, err := n.store.FindTransaction(in.Txid)
		if err != nil {
			return nil, err
		}
		resolved[in.Txid] = prevTx
	}
	return resolved, nil
}
