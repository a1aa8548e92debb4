package node

import (
	"bytes"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/golang-powchain/ledger/errkind"
)

const (
	protocol      = "tcp"
	commandLength = 12
)

// bootstrapAddr is the hardcoded master/relay node every peer knows about
// from a cold start.
const bootstrapAddr = "localhost:3000"

func cmdToBytes(cmd string) []byte {
	var b [commandLength]byte
	copy(b[:], cmd)
	return b[:]
}

func bytesToCmd(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// readFrame splits a raw connection payload into its command tag and
// remaining body.
func readFrame(raw []byte) (string, []byte, error) {
	if len(raw) < commandLength {
		return "", nil, errors.Wrap(errkind.ErrUnknownCommand, "frame shorter than command tag")
	}
	return bytesToCmd(raw[:commandLength]), raw[commandLength:], nil
}

// sendFrame dials addr, writes the command tag followed by payload, and
// closes the connection. It is the only way this package talks to a peer.
func sendFrame(addr, cmd string, payload []byte) error {
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()

	frame := append(cmdToBytes(cmd), payload...)
	if _, err := io.Copy(conn, bytes.NewReader(frame)); err != nil {
		return errors.Wrapf(err, "write frame to %s", addr)
	}
	return nil
}
