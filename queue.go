package dfu

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-dfu/internal/constants"
)

// PacketQueue is a bounded single-producer/single-consumer ring of received
// packets. The transport ingress is the producer, the supervisor the
// consumer. Publication order makes it safe without locks for exactly one
// producer and one consumer: the producer fills the slot and sets its valid
// flag before advancing head; the consumer copies the slot out and clears
// the flag before advancing tail.
type PacketQueue struct {
	slots [constants.QueueDepth]packetSlot
	head  atomic.Uint32 // producer index
	tail  atomic.Uint32 // consumer index
	count atomic.Int32
}

type packetSlot struct {
	valid  atomic.Bool
	length int
	data   [constants.MaxPacketSize]byte
}

// Enqueue copies p into the slot at head. It returns false without copying
// when the ring is full. Producer side only.
func (q *PacketQueue) Enqueue(p []byte) bool {
	if int(q.count.Load()) >= constants.QueueDepth {
		return false
	}

	slot := &q.slots[q.head.Load()%constants.QueueDepth]
	if slot.valid.Load() {
		// Consumer has not drained this slot yet
		return false
	}

	slot.length = copy(slot.data[:], p)
	slot.valid.Store(true)
	q.head.Store(q.head.Load() + 1)
	q.count.Add(1)
	return true
}

// Dequeue copies the slot at tail into out and invalidates it. It returns
// false when no packet is buffered. Consumer side only.
func (q *PacketQueue) Dequeue(out *Packet) bool {
	slot := &q.slots[q.tail.Load()%constants.QueueDepth]
	if !slot.valid.Load() {
		return false
	}

	out.length = slot.length
	copy(out.data[:slot.length], slot.data[:slot.length])
	slot.valid.Store(false)
	q.tail.Store(q.tail.Load() + 1)
	q.count.Add(-1)
	return true
}

// Len returns the number of buffered packets. Safe from either side.
func (q *PacketQueue) Len() int {
	n := int(q.count.Load())
	if n < 0 {
		return 0
	}
	return n
}

// Reset invalidates every slot. Only safe while no producer is running.
func (q *PacketQueue) Reset() {
	for i := range q.slots {
		q.slots[i].valid.Store(false)
		q.slots[i].length = 0
	}
	q.head.Store(0)
	q.tail.Store(0)
	q.count.Store(0)
}
