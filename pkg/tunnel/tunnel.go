// Package tunnel contains the public tunnel API.
//
// A [Tunnel] moves plaintext IP packets through the data channel: packets
// written to it are encrypted and sent over the link, and authenticated
// packets read from the link are returned by Read, one per call.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ooni/vpndatapath/internal/datachannel"
	"github.com/ooni/vpndatapath/internal/link"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/replay"
	"github.com/ooni/vpndatapath/internal/runtimex"
	"github.com/ooni/vpndatapath/internal/session"
	"github.com/ooni/vpndatapath/internal/workers"
	"github.com/ooni/vpndatapath/pkg/config"
)

// We're creating type aliases to expose the internal types on the public API.
type (
	// Link is the packet transport beneath the tunnel.
	Link = link.Link

	// Codec is the data-channel codec.
	Codec = datachannel.Codec

	// Keys are the session keys installed by [Tunnel.UpdateKeys].
	Keys = session.Keys

	// Stats are the data-channel counters.
	Stats = datachannel.Stats
)

// ErrKeepAliveTimeout means the peer stayed silent for too long.
var ErrKeepAliveTimeout = errors.New("tunnel: keepalive timeout")

// DefaultQueueSize is the default number of packets queued in each direction.
const DefaultQueueSize = 256

// maxBatch is the largest number of packets the down worker sends at once.
const maxBatch = 64

// Options contains the tunnel options.
type Options struct {
	// KeepAlive is the interval between pings on an idle tunnel. Zero
	// disables pings.
	KeepAlive time.Duration

	// KeepAliveTimeout closes the tunnel when nothing is received for this
	// long. Zero disables it.
	KeepAliveTimeout time.Duration

	// QueueSize is the number of packets queued in each direction. Zero
	// selects [DefaultQueueSize].
	QueueSize int
}

// Tunnel is a [net.Conn]-like packet tunnel. The zero value is invalid;
// use [New] or [Start].
type Tunnel struct {
	codec   *datachannel.Codec
	link    link.Link
	logger  model.Logger
	manager *workers.Manager
	options Options

	// tunUp carries decrypted inbound packets to Read.
	tunUp chan []byte

	// tunDown carries plaintext outbound packets to the down worker.
	tunDown chan []byte

	readDeadline  *deadline
	writeDeadline *deadline

	// lastSent and lastReceived are unix nanoseconds.
	lastSent     atomic.Int64
	lastReceived atomic.Int64

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Start dials the remote in cfg and returns a tunnel over the new link.
// Keys must be installed with [Tunnel.UpdateKeys] before packets flow.
func Start(ctx context.Context, cfg *config.Config) (*Tunnel, error) {
	codec, err := datachannel.New(cfg.Logger(), cfg.DataChannelOptions())
	if err != nil {
		return nil, err
	}
	obfuscator, err := cfg.Obfuscator()
	if err != nil {
		return nil, err
	}
	underlying, err := cfg.Dialer()
	if err != nil {
		return nil, err
	}
	dialer := link.NewDialer(cfg.Logger(), underlying, obfuscator)
	remote := cfg.Remote()
	l, err := dialer.DialContext(ctx, remote.Protocol, remote.Endpoint)
	if err != nil {
		cfg.Logger().Warnf("tunnel: dial %s: %s", remote.Endpoint, err.Error())
		return nil, err
	}
	opts := &Options{
		KeepAlive:        cfg.KeepAlive(),
		KeepAliveTimeout: cfg.KeepAliveTimeout(),
	}
	return New(cfg.Logger(), l, codec, opts), nil
}

// New creates a tunnel and starts its workers. The tunnel TAKES OWNERSHIP
// of the link and the codec.
func New(logger model.Logger, l Link, codec *Codec, opts *Options) *Tunnel {
	runtimex.Assert(logger != nil, "tunnel: logger cannot be nil")
	runtimex.Assert(l != nil, "tunnel: link cannot be nil")
	runtimex.Assert(codec != nil, "tunnel: codec cannot be nil")
	if opts == nil {
		opts = &Options{}
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	t := &Tunnel{
		codec:         codec,
		link:          l,
		logger:        logger,
		manager:       workers.NewManager(logger, "tunnel"),
		options:       *opts,
		tunUp:         make(chan []byte, queueSize),
		tunDown:       make(chan []byte, queueSize),
		readDeadline:  newDeadline(),
		writeDeadline: newDeadline(),
	}
	now := time.Now().UnixNano()
	t.lastSent.Store(now)
	t.lastReceived.Store(now)

	t.manager.StartWorker("downWorker", t.downWorker)
	if opts.KeepAlive > 0 || opts.KeepAliveTimeout > 0 {
		t.manager.StartWorker("keepaliveWorker", t.keepaliveWorker)
	}
	l.SetReadHandler(t.onPackets)
	return t
}

// fail records the first fatal error and starts shutting down.
func (t *Tunnel) fail(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
	t.manager.StartShutdown()
}

// closedError returns the error for operations on a stopped tunnel.
func (t *Tunnel) closedError() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err != nil {
		return fmt.Errorf("%w: %w", net.ErrClosed, t.err)
	}
	return net.ErrClosed
}

// onPackets is the link read handler.
func (t *Tunnel) onPackets(packets [][]byte, err error) {
	if err != nil {
		if !t.manager.IsShuttingDown() {
			t.logger.Warnf("tunnel: link: %s", err.Error())
		}
		t.fail(err)
		return
	}
	for _, packet := range packets {
		payload, err := t.codec.DecryptInbound(packet)
		switch {
		case errors.Is(err, datachannel.ErrPing):
			t.lastReceived.Store(time.Now().UnixNano())
			t.logger.Debug("tunnel: got ping")
			continue
		case err != nil:
			t.logger.Debugf("tunnel: %s", err.Error())
			continue
		}
		t.lastReceived.Store(time.Now().UnixNano())
		select {
		case t.tunUp <- payload:
		case <-t.manager.ShouldShutdown():
			return
		}
	}
}

// downWorker encrypts the packets written to the tunnel and sends them.
func (t *Tunnel) downWorker() {
	for {
		select {
		case packet := <-t.tunDown:
			batch := [][]byte{packet}
		drain:
			for len(batch) < maxBatch {
				select {
				case packet := <-t.tunDown:
					batch = append(batch, packet)
				default:
					break drain
				}
			}
			if err := t.send(batch); err != nil {
				t.logger.Warnf("tunnel: downWorker: %s", err.Error())
				t.fail(err)
				return
			}
		case <-t.manager.ShouldShutdown():
			return
		}
	}
}

// send encrypts and writes a batch. Only link errors are returned.
func (t *Tunnel) send(batch [][]byte) error {
	out := make([][]byte, 0, len(batch))
	for _, packet := range batch {
		encrypted, err := t.codec.EncryptOutbound(packet)
		if err != nil {
			if errors.Is(err, replay.ErrIDExhausted) {
				t.logger.Warn("tunnel: packet ids exhausted; keys must be renegotiated")
			} else {
				t.logger.Debugf("tunnel: %s", err.Error())
			}
			continue
		}
		out = append(out, encrypted)
	}
	if len(out) == 0 {
		return nil
	}
	if err := t.link.WritePackets(out); err != nil {
		return err
	}
	t.lastSent.Store(time.Now().UnixNano())
	return nil
}

// keepaliveWorker pings an idle peer and enforces the keepalive timeout.
func (t *Tunnel) keepaliveWorker() {
	tick := t.options.KeepAlive
	if tick <= 0 || (t.options.KeepAliveTimeout > 0 && t.options.KeepAliveTimeout < tick) {
		tick = t.options.KeepAliveTimeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if timeout := t.options.KeepAliveTimeout; timeout > 0 {
				silent := now.Sub(time.Unix(0, t.lastReceived.Load()))
				if silent >= timeout {
					t.logger.Warnf("tunnel: nothing received for %s", silent)
					t.fail(ErrKeepAliveTimeout)
					return
				}
			}
			if t.options.KeepAlive > 0 && now.Sub(time.Unix(0, t.lastSent.Load())) >= t.options.KeepAlive {
				t.ping()
			}
		case <-t.manager.ShouldShutdown():
			return
		}
	}
}

// ping sends a keepalive ping, logging failures.
func (t *Tunnel) ping() {
	packet, err := t.codec.EncryptPing()
	if err != nil {
		t.logger.Debugf("tunnel: ping: %s", err.Error())
		return
	}
	if err := t.link.WritePacket(packet); err != nil {
		t.logger.Debugf("tunnel: ping: %s", err.Error())
		return
	}
	t.lastSent.Store(time.Now().UnixNano())
}

// precheck fails once the tunnel is closed or the deadline has passed, so
// that neither outcome races with a ready channel operation.
func (t *Tunnel) precheck(d *deadline) error {
	select {
	case <-t.manager.ShouldShutdown():
		return t.closedError()
	default:
	}
	select {
	case <-d.wait():
		return os.ErrDeadlineExceeded
	default:
	}
	return nil
}

// Read reads the next inbound packet into data. When data is too short the
// packet is truncated and [io.ErrShortBuffer] is returned.
func (t *Tunnel) Read(data []byte) (int, error) {
	if err := t.precheck(t.readDeadline); err != nil {
		return 0, err
	}
	select {
	case packet := <-t.tunUp:
		count := copy(data, packet)
		if count < len(packet) {
			return count, io.ErrShortBuffer
		}
		return count, nil
	case <-t.readDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	case <-t.manager.ShouldShutdown():
		return 0, t.closedError()
	}
}

// Write queues a copy of data for encryption and sending.
func (t *Tunnel) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := t.precheck(t.writeDeadline); err != nil {
		return 0, err
	}
	packet := append([]byte{}, data...)
	select {
	case t.tunDown <- packet:
		return len(data), nil
	case <-t.writeDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	case <-t.manager.ShouldShutdown():
		return 0, t.closedError()
	}
}

// UpdateKeys installs the keys of a (re)negotiated session under keyID.
func (t *Tunnel) UpdateKeys(keyID byte, keys *Keys) error {
	return t.codec.Rekey(keyID, keys)
}

// Stats returns the data-channel counters.
func (t *Tunnel) Stats() Stats {
	return t.codec.Stats()
}

// RemoteAddr returns the remote endpoint of the link.
func (t *Tunnel) RemoteAddr() net.Addr {
	return t.link.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (t *Tunnel) SetDeadline(tm time.Time) error {
	t.readDeadline.set(tm)
	t.writeDeadline.set(tm)
	return nil
}

// SetReadDeadline sets the read deadline.
func (t *Tunnel) SetReadDeadline(tm time.Time) error {
	t.readDeadline.set(tm)
	return nil
}

// SetWriteDeadline sets the write deadline.
func (t *Tunnel) SetWriteDeadline(tm time.Time) error {
	t.writeDeadline.set(tm)
	return nil
}

// Close stops the workers, closes the link and wipes the keys.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.manager.StartShutdown()
		// We OWN the link
		err = t.link.Close()
		t.manager.WaitWorkersShutdown()
		t.codec.Close()
	})
	return err
}
