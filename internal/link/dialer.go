package link

import (
	"context"
	"net"
	"strings"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
)

// Dialer dials links. The zero value is invalid; use [NewDialer].
type Dialer struct {
	// dialer is the underlying [model.Dialer] to use to create connections.
	dialer model.Dialer

	// logger is the logger to use
	logger model.Logger

	// obfuscator applies to every link we create.
	obfuscator *obfuscation.Obfuscator

	// MaxDatagrams is the batch size of datagram links.
	MaxDatagrams int
}

// NewDialer creates a new [*Dialer] instance.
func NewDialer(logger model.Logger, dialer model.Dialer, obf *obfuscation.Obfuscator) *Dialer {
	return &Dialer{
		dialer:       dialer,
		logger:       logger,
		obfuscator:   obf,
		MaxDatagrams: DefaultMaxDatagrams,
	}
}

// DialContext dials the given address and returns a [Link] using the
// framing matching the dialed conn.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (Link, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.logger.Debugf("link: dialed %s/%s", conn.RemoteAddr().String(), conn.LocalAddr().Network())

	if isDatagram(conn.LocalAddr()) {
		return NewDatagramLink(d.logger, conn, d.obfuscator, d.MaxDatagrams), nil
	}
	return NewStreamLink(d.logger, conn, d.obfuscator), nil
}

// isDatagram returns whether addr belongs to a datagram socket.
func isDatagram(addr net.Addr) bool {
	return addr != nil && strings.HasPrefix(addr.Network(), "udp")
}
