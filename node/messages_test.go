package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionMsgRoundTrip(t *testing.T) {
	m := versionMsg{Version: protocolVersion, BestHeight: 42, AddrFrom: "localhost:3001"}
	decoded, err := decodeVersionMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestAddrMsgRoundTrip(t *testing.T) {
	m := addrMsg{AddrList: []string{"localhost:3001", "localhost:3002"}}
	decoded, err := decodeAddrMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestAddrMsgRoundTripEmptyList(t *testing.T) {
	m := addrMsg{}
	decoded, err := decodeAddrMsg(m.encode())
	require.NoError(t, err)
	assert.Empty(t, decoded.AddrList)
}

func TestGetBlockMsgRoundTrip(t *testing.T) {
	m := getBlockMsg{AddrFrom: "localhost:3001"}
	decoded, err := decodeGetBlockMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestInvMsgRoundTrip(t *testing.T) {
	m := invMsg{AddrFrom: "localhost:3001", Kind: "block", Items: []string{"hash1", "hash2"}}
	decoded, err := decodeInvMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestGetDataMsgRoundTrip(t *testing.T) {
	m := getDataMsg{AddrFrom: "localhost:3001", Kind: "tx", ID: "txid123"}
	decoded, err := decodeGetDataMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestBlockMsgRoundTrip(t *testing.T) {
	m := blockMsg{AddrFrom: "localhost:3001", Block: []byte{1, 2, 3, 4, 5}}
	decoded, err := decodeBlockMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestTxMsgRoundTrip(t *testing.T) {
	m := txMsg{AddrFrom: "localhost:3001", Transaction: []byte{9, 8, 7}}
	decoded, err := decodeTxMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestTxMsgRoundTripEmptyTransaction(t *testing.T) {
	m := txMsg{AddrFrom: "localhost:3001"}
	decoded, err := decodeTxMsg(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m.AddrFrom, decoded.AddrFrom)
	assert.Empty(t, decoded.Transaction)
}
