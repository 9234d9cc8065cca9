// Package chainheight defines ChainHeight, the monotonically increasing
// position of a record in the append-only log.
package chainheight

// Height is the 0-based index of a record in the log.
type Height uint64

// Max is used as a sentinel "no records yet" height.
const Max Height = ^Height(0)

func New(n uint64) Height { return Height(n) }

func (h Height) Uint64() uint64 { return uint64(h) }
