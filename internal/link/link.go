package link

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
	"github.com/ooni/vpndatapath/internal/runtimex"
	"github.com/ooni/vpndatapath/internal/workers"
)

// ErrPacketTooLarge means that a packet is larger than [math.MaxUint16].
var ErrPacketTooLarge = errors.New("openvpn: packet too large")

// maxPacketSize is the largest packet a link carries.
const maxPacketSize = math.MaxUint16

// Link is a packet transport beneath the data channel.
type Link interface {
	// WritePacket writes a single packet.
	WritePacket(pkt []byte) error

	// WritePackets writes packets in order, batching them when possible.
	WritePackets(pkts [][]byte) error

	// SetReadHandler starts reading. The handler receives batches of
	// packets; it is called once with a non-nil error when reading stops.
	// It must be called at most once.
	SetReadHandler(handler func(packets [][]byte, err error))

	// IsReliable returns whether the transport is a stream.
	IsReliable() bool

	// PacketBufferSize returns the largest packet the link accepts.
	PacketBufferSize() int

	// RemoteAddr returns the remote endpoint.
	RemoteAddr() net.Addr

	// Close stops reading and closes the underlying conn.
	Close() error
}

// framer reads and writes raw packets on a conn.
type framer interface {
	// readPackets blocks until at least one packet is available.
	readPackets() ([][]byte, error)

	// writePackets writes every packet or returns an error.
	writePackets(pkts [][]byte) error
}

// packetLink implements [Link] on top of a [framer].
type packetLink struct {
	conn       net.Conn
	framer     framer
	logger     model.Logger
	manager    *workers.Manager
	obfuscator *obfuscation.Obfuscator
	reliable   bool
	remote     net.Addr

	mu         sync.Mutex
	handlerSet bool
	closeOnce  sync.Once
}

var _ Link = &packetLink{}

func newPacketLink(logger model.Logger, conn net.Conn, f framer, obf *obfuscation.Obfuscator, reliable bool) *packetLink {
	return &packetLink{
		conn:       newCloseOnceConn(conn),
		framer:     f,
		logger:     logger,
		manager:    workers.NewManager(logger, "link"),
		obfuscator: obf,
		reliable:   reliable,
	}
}

// WritePacket implements Link
func (l *packetLink) WritePacket(pkt []byte) error {
	return l.WritePackets([][]byte{pkt})
}

// WritePackets implements Link
func (l *packetLink) WritePackets(pkts [][]byte) error {
	encoded := make([][]byte, 0, len(pkts))
	for _, pkt := range pkts {
		if len(pkt) > maxPacketSize {
			return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(pkt))
		}
		encoded = append(encoded, l.obfuscator.Encode(pkt))
	}
	return l.framer.writePackets(encoded)
}

// SetReadHandler implements Link
func (l *packetLink) SetReadHandler(handler func(packets [][]byte, err error)) {
	runtimex.Assert(handler != nil, "link: nil read handler")
	l.mu.Lock()
	defer l.mu.Unlock()
	runtimex.PanicIfTrue(l.handlerSet, "link: read handler already set")
	l.handlerSet = true
	l.manager.StartWorker("readWorker", func() { l.readWorker(handler) })
}

// readWorker reads packets until the conn fails or we shut down.
func (l *packetLink) readWorker(handler func(packets [][]byte, err error)) {
	defer l.manager.StartShutdown()

	for {
		// POSSIBLY BLOCK on the connection to read new packets
		pkts, err := l.framer.readPackets()
		if err != nil {
			if l.manager.IsShuttingDown() {
				l.logger.Debugf("link: readWorker: %s", err.Error())
			} else {
				l.logger.Infof("link: readWorker: %s", err.Error())
			}
			handler(nil, err)
			return
		}
		decoded := make([][]byte, 0, len(pkts))
		for _, pkt := range pkts {
			decoded = append(decoded, l.obfuscator.Decode(pkt))
		}
		handler(decoded, nil)
	}
}

// IsReliable implements Link
func (l *packetLink) IsReliable() bool {
	return l.reliable
}

// PacketBufferSize implements Link
func (l *packetLink) PacketBufferSize() int {
	return maxPacketSize
}

// RemoteAddr implements Link
func (l *packetLink) RemoteAddr() net.Addr {
	if l.remote != nil {
		return l.remote
	}
	return l.conn.RemoteAddr()
}

// Close implements Link
func (l *packetLink) Close() (err error) {
	l.closeOnce.Do(func() {
		l.manager.StartShutdown()
		// closing the conn unblocks the read worker
		err = l.conn.Close()
		l.manager.WaitWorkersShutdown()
	})
	return
}
