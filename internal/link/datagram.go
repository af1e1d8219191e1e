package link

import (
	"io"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
)

const (
	// DefaultMaxDatagrams is the default number of datagrams moved by a
	// single batch syscall.
	DefaultMaxDatagrams = 128

	// batchBufferSize is the size of each buffer in a read batch. Longer
	// datagrams are truncated and fail authentication.
	batchBufferSize = 1 << 12
)

// batchConn is implemented by both [ipv4.PacketConn] and [ipv6.PacketConn]:
// ipv4.Message and ipv6.Message are the same type.
type batchConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// newBatchConn returns the batchConn matching the family of conn.
func newBatchConn(conn *net.UDPConn) batchConn {
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() == nil {
		return ipv6.NewPacketConn(conn)
	}
	return ipv4.NewPacketConn(conn)
}

// datagramFramer maps each packet to a datagram.
type datagramFramer struct {
	// conn is the underlying conn.
	conn net.Conn

	// batch is nil unless conn is a UDP socket.
	batch batchConn

	// remote is the destination of an unconnected socket or nil.
	remote net.Addr

	// readMsgs are reused across batch reads.
	readMsgs []ipv4.Message

	// single is reused by non-batch reads.
	single []byte
}

var _ framer = &datagramFramer{}

func newDatagramFramer(conn net.Conn, remote *net.UDPAddr, maxDatagrams int) *datagramFramer {
	if maxDatagrams <= 0 {
		maxDatagrams = DefaultMaxDatagrams
	}
	f := &datagramFramer{conn: conn}
	if remote != nil {
		f.remote = remote
	}
	uc, ok := conn.(*net.UDPConn)
	if !ok {
		f.single = make([]byte, maxPacketSize)
		return f
	}
	f.batch = newBatchConn(uc)
	f.readMsgs = make([]ipv4.Message, maxDatagrams)
	for idx := range f.readMsgs {
		f.readMsgs[idx].Buffers = [][]byte{make([]byte, batchBufferSize)}
	}
	return f
}

// readPackets implements framer. The returned slices are only valid until
// the next call.
func (f *datagramFramer) readPackets() ([][]byte, error) {
	if f.batch == nil {
		count, err := f.conn.Read(f.single)
		if err != nil {
			return nil, err
		}
		return [][]byte{f.single[:count]}, nil
	}
	count, err := f.batch.ReadBatch(f.readMsgs, 0)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, count)
	for idx := 0; idx < count; idx++ {
		msg := &f.readMsgs[idx]
		out = append(out, msg.Buffers[0][:msg.N])
	}
	return out, nil
}

// writePackets implements framer
func (f *datagramFramer) writePackets(pkts [][]byte) error {
	if f.batch == nil {
		for _, pkt := range pkts {
			if _, err := f.conn.Write(pkt); err != nil {
				return err
			}
		}
		return nil
	}
	msgs := make([]ipv4.Message, len(pkts))
	for idx, pkt := range pkts {
		msgs[idx].Buffers = [][]byte{pkt}
		msgs[idx].Addr = f.remote
	}
	for len(msgs) > 0 {
		count, err := f.batch.WriteBatch(msgs, 0)
		if err != nil {
			return err
		}
		if count <= 0 {
			return io.ErrShortWrite
		}
		msgs = msgs[count:]
	}
	return nil
}

// NewDatagramLink returns a [Link] over a connected datagram conn. UDP
// sockets move up to maxDatagrams packets per syscall; zero selects
// [DefaultMaxDatagrams]. A nil obfuscator leaves packets unchanged.
func NewDatagramLink(logger model.Logger, conn net.Conn, obf *obfuscation.Obfuscator, maxDatagrams int) Link {
	return newPacketLink(logger, conn, newDatagramFramer(conn, nil, maxDatagrams), obf, false)
}

// NewUnconnectedDatagramLink is like [NewDatagramLink] for a socket that is
// not connected: every packet is sent to remote.
func NewUnconnectedDatagramLink(logger model.Logger, conn *net.UDPConn, remote *net.UDPAddr,
	obf *obfuscation.Obfuscator, maxDatagrams int) Link {
	l := newPacketLink(logger, conn, newDatagramFramer(conn, remote, maxDatagrams), obf, false)
	if remote != nil {
		l.remote = remote
	}
	return l
}
