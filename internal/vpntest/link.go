package vpntest

import (
	"net"
	"sync"
)

// linkBacklog is the number of packets a [Link] queues for its reader.
const linkBacklog = 1024

// Link is an in-memory, unreliable packet link. Packets written on one end
// of a pair are delivered to the read handler of the other end. Create
// pairs with [NewLinkPair].
type Link struct {
	// Filter, when set, maps each written packet to the packets actually
	// delivered to the peer, allowing to drop, duplicate or corrupt them.
	Filter func(pkt []byte) [][]byte

	peer    *Link
	inbox   chan []byte
	written chan struct{}

	mu        sync.Mutex
	handler   func(packets [][]byte, err error)
	nwrites   int
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewLinkPair returns two connected links.
func NewLinkPair() (*Link, *Link) {
	a, b := newLink(), newLink()
	a.peer, b.peer = b, a
	return a, b
}

func newLink() *Link {
	return &Link{
		inbox:   make(chan []byte, linkBacklog),
		written: make(chan struct{}, linkBacklog),
		closed:  make(chan struct{}),
	}
}

// WritePacket delivers pkt to the peer. Packets are dropped when the peer
// is closed or its backlog is full.
func (l *Link) WritePacket(pkt []byte) error {
	select {
	case <-l.closed:
		return net.ErrClosed
	default:
	}
	l.mu.Lock()
	l.nwrites++
	l.mu.Unlock()
	out := [][]byte{append([]byte{}, pkt...)}
	if l.Filter != nil {
		out = l.Filter(out[0])
	}
	for _, p := range out {
		select {
		case l.peer.inbox <- p:
		default:
		}
	}
	select {
	case l.written <- struct{}{}:
	default:
	}
	return nil
}

// WritePackets writes each packet in turn.
func (l *Link) WritePackets(pkts [][]byte) error {
	for _, pkt := range pkts {
		if err := l.WritePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

// SetReadHandler starts delivering received packets to handler.
func (l *Link) SetReadHandler(handler func(packets [][]byte, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler != nil {
		panic("vpntest: read handler already set")
	}
	l.handler = handler
	l.wg.Add(1)
	go l.deliverLoop(handler)
}

func (l *Link) deliverLoop(handler func(packets [][]byte, err error)) {
	defer l.wg.Done()
	for {
		select {
		case <-l.closed:
			handler(nil, net.ErrClosed)
			return
		case pkt := <-l.inbox:
			handler([][]byte{pkt}, nil)
		}
	}
}

// Writes returns the number of packets written so far.
func (l *Link) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nwrites
}

// Written is signaled (without blocking) after every write.
func (l *Link) Written() <-chan struct{} {
	return l.written
}

// IsReliable implements link.Link
func (l *Link) IsReliable() bool {
	return false
}

// PacketBufferSize implements link.Link
func (l *Link) PacketBufferSize() int {
	return 1 << 16
}

// RemoteAddr implements link.Link
func (l *Link) RemoteAddr() net.Addr {
	return NewAddr("memory", "peer")
}

// Close implements link.Link
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	l.wg.Wait()
	return nil
}

// DropPackets returns a [Link.Filter] that drops the packets with the given
// write sequence numbers (starting at 1). Repeating a number has no effect.
func DropPackets(seq ...int) func([]byte) [][]byte {
	drop := make(map[int]bool)
	for _, i := range seq {
		drop[i] = true
	}
	mu := &sync.Mutex{}
	n := 0
	return func(pkt []byte) [][]byte {
		mu.Lock()
		defer mu.Unlock()
		n++
		if drop[n] {
			return nil
		}
		return [][]byte{pkt}
	}
}

// DuplicatePackets returns a [Link.Filter] that delivers every packet twice.
func DuplicatePackets() func([]byte) [][]byte {
	return func(pkt []byte) [][]byte {
		return [][]byte{pkt, append([]byte{}, pkt...)}
	}
}
