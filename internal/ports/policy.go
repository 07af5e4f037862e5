package ports

// OverflowPolicy says what Enqueue does when the delivery queue is full.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"       // wait for room, honoring ctx
	OverflowDropNewest OverflowPolicy = "drop_newest" // refuse the incoming delivery
	OverflowDropOldest OverflowPolicy = "drop_oldest" // evict the head to make room
)

func (p OverflowPolicy) Valid() bool {
	switch p {
	case OverflowBlock, OverflowDropNewest, OverflowDropOldest:
		return true
	}
	return false
}
