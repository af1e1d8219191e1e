// obfs4 dialer
//
// SPDX-License-Identifier: MIT
// (c) 2015-2022 rhui zheng
// (c) 2015-2022 ginuerzh and gost contributors
// (c) 2021 Simone Basso
// (c) 2022 Ain Ghazal

package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	pt "git.torproject.org/pluggable-transports/goptlib.git"
	"gitlab.com/yawning/obfs4.git/transports/base"
	"gitlab.com/yawning/obfs4.git/transports/obfs4"

	"github.com/ooni/vpndatapath/internal/model"
)

// ErrBadProxyURI means the obfs4 proxy URI cannot be used.
var ErrBadProxyURI = errors.New("bad proxy uri")

// OBFS4Node is an obfs4 bridge forwarding to the gateway.
type OBFS4Node struct {
	// Addr is the host:port of the bridge.
	Addr string

	// Values contains the cert and iat-mode parameters.
	Values url.Values
}

// ParseOBFS4URI parses a URI such as
//
//	obfs4://192.0.2.1:443?cert=4UbQjIfjJEQHPOs8vs5sagrSXx1gfrDCGdVh2hpIPSKH0nklv1e4f29r7jb91VIrq4q5Jw&iat-mode=0
//
// The certificate must be URL-encoded.
func ParseOBFS4URI(uri string) (*OBFS4Node, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadProxyURI, err.Error())
	}
	if u.Scheme != "obfs4" {
		return nil, fmt.Errorf("%w: expected obfs4:// uri", ErrBadProxyURI)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("%w: expected host and port", ErrBadProxyURI)
	}
	return &OBFS4Node{
		Addr:   net.JoinHostPort(u.Hostname(), u.Port()),
		Values: u.Query(),
	}, nil
}

// OBFS4Dialer implements [model.Dialer] by dialing an obfs4 bridge. Whatever
// address is passed to DialContext, the conn goes to the bridge.
type OBFS4Dialer struct {
	cargs  any
	cf     base.ClientFactory
	logger model.Logger
	node   *OBFS4Node

	// underlying is the dialer for the TCP conn to the bridge.
	underlying model.Dialer
}

var _ model.Dialer = &OBFS4Dialer{}

// NewOBFS4Dialer validates the bridge parameters and returns a dialer. A nil
// underlying dialer selects a [net.Dialer] with a 15 seconds timeout.
func NewOBFS4Dialer(logger model.Logger, node *OBFS4Node, underlying model.Dialer) (*OBFS4Dialer, error) {
	if underlying == nil {
		underlying = &net.Dialer{
			Timeout: 15 * time.Second, // eventually interrupt connect
		}
	}

	values := url.Values{}
	for key, value := range node.Values {
		values[key] = append([]string{}, value...)
	}
	stateDir := values.Get("state-dir")
	if stateDir == "" {
		stateDir = "."
	}
	values.Del("state-dir")
	ptArgs := pt.Args(values)

	// we're only dealing with the client side here
	cf, err := new(obfs4.Transport).ClientFactory(stateDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadProxyURI, err.Error())
	}
	cargs, err := cf.ParseArgs(&ptArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadProxyURI, err.Error())
	}

	logger.Infof("link: using obfs4 bridge at %s", node.Addr)
	return &OBFS4Dialer{
		cargs:      cargs,
		cf:         cf,
		logger:     logger,
		node:       node,
		underlying: underlying,
	}, nil
}

// DialContext establishes a connection with the obfs4 bridge. The context
// allows to interrupt this operation midway.
func (d *OBFS4Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.newCancellableDialer().dial(ctx, "tcp", d.node.Addr)
}

// newCancellableDialer is separate from DialContext for testing purposes.
func (d *OBFS4Dialer) newCancellableDialer() *obfs4CancellableDialer {
	return &obfs4CancellableDialer{
		cargs: d.cargs,
		cf:    d.cf,
		done:  make(chan struct{}),
		ud:    d.underlying,
	}
}

// obfs4CancellableDialer runs the dial in a background goroutine, thus
// allowing for its early cancellation.
type obfs4CancellableDialer struct {
	cargs any
	cf    base.ClientFactory

	// done is closed when the background goroutine joins.
	done chan struct{}

	// ud is the underlying dialer to use.
	ud model.Dialer
}

// dial performs the dial.
func (d *obfs4CancellableDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	connch, errch := make(chan net.Conn), make(chan error, 1)
	go func() {
		defer close(d.done) // signal we're joining
		conn, err := d.cf.Dial(network, address, d.innerDial, d.cargs)
		if err != nil {
			errch <- err // buffered channel
			return
		}
		select {
		case connch <- conn:
		default:
			conn.Close() // context won the race
		}
	}()
	select {
	case err := <-errch:
		return nil, err
	case conn := <-connch:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// innerDial performs the inner dial using the underlying dialer.
func (d *obfs4CancellableDialer) innerDial(network, address string) (net.Conn, error) {
	return d.ud.DialContext(context.Background(), network, address)
}
