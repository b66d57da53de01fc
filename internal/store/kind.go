package store

import (
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown resource kind")

// Kind identifies one of the streamed collections.
type Kind int

const (
	Items Kind = iota
	Orders
)

// Kinds lists every resource kind in a stable order.
func Kinds() []Kind {
	return []Kind{Items, Orders}
}

func (k Kind) String() string {
	switch k {
	case Items:
		return "items"
	case Orders:
		return "orders"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Table returns the backing table name.
func (k Kind) Table() string {
	switch k {
	case Items:
		return "products"
	case Orders:
		return "orders"
	default:
		return ""
	}
}

// Event returns the SSE event name used for snapshots of this kind.
func (k Kind) Event() string {
	return k.Table()
}
