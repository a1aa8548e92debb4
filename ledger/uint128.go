package ledger

import (
	"fmt"
	"time"
)

// Uint128 carries the block timestamp (milliseconds since the Unix epoch) at
// the fixed width the wire and store encodings require. Go has no native
// 128-bit integer; a real value never exceeds Lo in practice (millisecond
// timestamps overflow uint64 only after the year 584 million), but Hi is
// still serialized so the on-disk/wire width is fixed regardless.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// NowUnixMilli returns the current wall-clock time as a Uint128 count of
// milliseconds since the Unix epoch.
func NowUnixMilli() Uint128 {
	return Uint128{Lo: uint64(time.Now().UnixMilli())}
}

// Uint64 returns the low 64 bits, which is the whole value for any
// timestamp producible by this implementation.
func (u Uint128) Uint64() uint64 {
	return u.Lo
}

func (u Uint128) String() string {
	if u.Hi == 0 {
		return fmt.Sprintf("%d", u.Lo)
	}
	return fmt.Sprintf("%d%019d", u.Hi, u.Lo)
}
