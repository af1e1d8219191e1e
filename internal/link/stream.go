package link

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
)

// streamFramer prefixes each packet with its 2-byte big-endian length.
type streamFramer struct {
	conn   net.Conn
	reader *bufio.Reader
}

var _ framer = &streamFramer{}

func newStreamFramer(conn net.Conn) *streamFramer {
	return &streamFramer{conn: conn, reader: bufio.NewReader(conn)}
}

// readPackets implements framer
func (f *streamFramer) readPackets() ([][]byte, error) {
	lenbuf := make([]byte, 2)
	if _, err := io.ReadFull(f.reader, lenbuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(lenbuf)
	buf := make([]byte, length)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return nil, err
	}
	return [][]byte{buf}, nil
}

// writePackets implements framer. All the frames go out with one write.
func (f *streamFramer) writePackets(pkts [][]byte) error {
	var size int
	for _, pkt := range pkts {
		size += 2 + len(pkt)
	}
	out := make([]byte, 0, size)
	for _, pkt := range pkts {
		out = binary.BigEndian.AppendUint16(out, uint16(len(pkt)))
		out = append(out, pkt...)
	}
	_, err := f.conn.Write(out)
	return err
}

// NewStreamLink returns a [Link] over a stream conn. A nil obfuscator
// leaves packets unchanged.
func NewStreamLink(logger model.Logger, conn net.Conn, obf *obfuscation.Obfuscator) Link {
	return newPacketLink(logger, conn, newStreamFramer(conn), obf, true)
}
