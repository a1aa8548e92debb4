// Package node implements the gossip protocol peers use to exchange
// blocks and transactions and converge on a single longest chain.
package node

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/golang-powchain/ledger"
)

// Node is one peer's share of gossip state: its known peers, in-flight
// block downloads, mempool, and the chain/utxo handles it mutates on
// every incoming message. mu guards knownPeers, blocksInTransit and
// mempool; mineLoop holds it for its whole pass, including mining. The
// store and utxo handles are also called outside mu by the other handlers.
type Node struct {
	mu sync.Mutex

	address          string
	miningPubKeyHash []byte

	knownPeers      []string
	blocksInTransit []string
	mempool         map[string]*ledger.Transaction

	store *ledger.BlockStore
	utxo  *ledger.UtxoIndex

	log *zap.SugaredLogger
}

// New builds a Node bound to address ("localhost:<port>"). miningPubKeyHash
// may be nil, meaning this node never mines.
func New(address string, miningPubKeyHash []byte, store *ledger.BlockStore, utxo *ledger.UtxoIndex, log *zap.SugaredLogger) *Node {
	return &Node{
		address:          address,
		miningPubKeyHash: miningPubKeyHash,
		knownPeers:       []string{bootstrapAddr},
		mempool:          make(map[string]*ledger.Transaction),
		store:            store,
		utxo:             utxo,
		log:              log,
	}
}

// IsMining reports whether this node has a reward address configured.
func (n *Node) IsMining() bool {
	return len(n.miningPubKeyHash) > 0
}

// isBootstrap reports whether this node is the hardcoded master/relay.
func (n *Node) isBootstrap() bool {
	return n.address == bootstrapAddr
}

// Start blocks, running the bootstrap worker and the connection-accept
// loop. It returns only on a listener error.
func (n *Node) Start() error {
	go n.bootstrapWorker()

	ln, err := net.Listen(protocol, n.address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", n.address)
	}
	defer ln.Close()

	n.log.Infow("node listening", "address", n.address, "mining", n.IsMining())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept connection")
		}
		go n.handleConnection(conn)
	}
}

// bootstrapWorker runs once at startup: after a brief delay, it either
// asks peers for the chain (if we have none yet) or announces our
// version to the bootstrap peer.
func (n *Node) bootstrapWorker() {
	time.Sleep(time.Second)

	height, err := n.store.GetBestHeight()
	if err != nil {
		n.mu.Lock()
		peers := append([]string(nil), n.knownPeers...)
		n.mu.Unlock()
		for _, peer := range peers {
			n.sendGetBlock(peer)
		}
		return
	}

	n.sendVersion(bootstrapAddr, height)
}

func (n *Node) dropPeerLocked(addr string) {
	kept := n.knownPeers[:0]
	for _, p := range n.knownPeers {
		if p != addr {
			kept = append(kept, p)
		}
	}
	n.knownPeers = kept
}

func (n *Node) send(addr, cmd string, payload []byte) {
	if err := sendFrame(addr, cmd, payload); err != nil {
		n.log.Warnw("peer unreachable, dropping", "peer", addr, "error", err)
		n.mu.Lock()
		n.dropPeerLocked(addr)
		n.mu.Unlock()
	}
}

// sendLocked is send's lock-free twin: it assumes the caller already holds
// n.mu (as mineLoop does for its whole pass) and drops the peer in place
// rather than re-acquiring the mutex, which send's failure path would
// otherwise deadlock on.
func (n *Node) sendLocked(addr, cmd string, payload []byte) {
	if err := sendFrame(addr, cmd, payload); err != nil {
		n.log.Warnw("peer unreachable, dropping", "peer", addr, "error", err)
		n.dropPeerLocked(addr)
	}
}

func (n *Node) sendVersion(addr string, bestHeight int32) {
	msg := versionMsg{Version: protocolVersion, BestHeight: bestHeight, AddrFrom: n.address}
	n.send(addr, "version", msg.encode())
}

func (n *Node) sendAddr(addr string, peers []string) {
	msg := addrMsg{AddrList: peers}
	n.send(addr, "addr", msg.encode())
}

func (n *Node) sendGetBlock(addr string) {
	msg := getBlockMsg{AddrFrom: n.address}
	n.send(addr, "getblock", msg.encode())
}

func (n *Node) sendInv(addr, kind string, items []string) {
	msg := invMsg{AddrFrom: n.address, Kind: kind, Items: items}
	n.send(addr, "inv", msg.encode())
}

// sendInvLocked is sendInv's lock-free twin, for use from within mineLoop's
// held section — see sendLocked.
func (n *Node) sendInvLocked(addr, kind string, items []string) {
	msg := invMsg{AddrFrom: n.address, Kind: kind, Items: items}
	n.sendLocked(addr, "inv", msg.encode())
}

func (n *Node) sendGetData(addr, kind, id string) {
	msg := getDataMsg{AddrFrom: n.address, Kind: kind, ID: id}
	n.send(addr, "getdata", msg.encode())
}

func (n *Node) sendBlock(addr string, block *ledger.Block) {
	msg := blockMsg{AddrFrom: n.address, Block: block.Serialize()}
	n.send(addr, "block", msg.encode())
}

func (n *Node) sendTx(addr string, tx *ledger.Transaction) {
	msg := txMsg{AddrFrom: n.address, Transaction: tx.Serialize()}
	n.send(addr, "tx", msg.encode())
}

// SendTransaction submits tx to the network: it builds a short-lived Node
// whose address is the fixed localhost:7000 purely to reuse the outbound
// send path (that Node never listens), then hands the transaction to the
// bootstrap peer via a tx message.
func SendTransaction(tx *ledger.Transaction, store *ledger.BlockStore, utxo *ledger.UtxoIndex, log *zap.SugaredLogger) error {
	const ephemeralPort = "localhost:7000"
	client := New(ephemeralPort, nil, store, utxo, log)
	client.sendTx(bootstrapAddr, tx)
	return nil
}
