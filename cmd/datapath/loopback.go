package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ooni/vpndatapath/internal/bytesx"
	"github.com/ooni/vpndatapath/internal/datachannel"
	"github.com/ooni/vpndatapath/internal/icmp"
	"github.com/ooni/vpndatapath/internal/link"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/session"
	"github.com/ooni/vpndatapath/pkg/config"
	"github.com/ooni/vpndatapath/pkg/tunnel"
)

var (
	clientIP = net.IPv4(10, 8, 0, 2)
	serverIP = net.IPv4(10, 8, 0, 1)
)

// loopbackKeyID is the key id of the only key epoch.
const loopbackKeyID = 1

// errBadReply means the loopback peer answered with the wrong packet.
var errBadReply = errors.New("datapath: bad echo reply")

// loadConfig reads the config file, or returns defaults for an empty path.
func loadConfig(logger model.Logger, path string) (*config.Config, error) {
	opts := &config.OpenVPNOptions{Cipher: "AES-256-GCM"}
	if path != "" {
		var err error
		if opts, err = config.ReadConfigFile(path); err != nil {
			return nil, err
		}
	}
	return config.NewConfig(config.WithLogger(logger), config.WithOpenVPNOptions(opts)), nil
}

// newLoopbackKeys fills a data-channel key slot the way a handshake would
// and expands it into session keys.
func newLoopbackKeys(keyID byte) (*session.Keys, error) {
	dck := session.NewDataChannelKey(keyID)
	for _, add := range []func(*session.KeySource) error{dck.AddLocalKey, dck.AddRemoteKey} {
		ks, err := session.NewKeySource()
		if err != nil {
			return nil, err
		}
		defer ks.Wipe()
		if err := add(ks); err != nil {
			return nil, err
		}
	}
	clientSID, err := bytesx.GenRandomBytes(session.SessionIDLength)
	if err != nil {
		return nil, err
	}
	serverSID, err := bytesx.GenRandomBytes(session.SessionIDLength)
	if err != nil {
		return nil, err
	}
	return dck.Keys(clientSID, serverSID)
}

// newLoopbackTunnels connects two tunnels over UDP on localhost.
func newLoopbackTunnels(logger model.Logger, cfg *config.Config) (*tunnel.Tunnel, *tunnel.Tunnel, error) {
	obfuscator, err := cfg.Obfuscator()
	if err != nil {
		return nil, nil, err
	}
	clientCodec, err := datachannel.New(logger, cfg.DataChannelOptions())
	if err != nil {
		return nil, nil, err
	}
	serverCodec, err := datachannel.New(logger, cfg.DataChannelOptions())
	if err != nil {
		return nil, nil, err
	}

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, nil, err
	}
	clientConn, err := net.DialUDP("udp4", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		serverConn.Close()
		return nil, nil, err
	}
	logger.Infof("datapath: loopback %s <-> %s", clientConn.LocalAddr(), serverConn.LocalAddr())

	clientLink := link.NewDatagramLink(logger, clientConn, obfuscator, link.DefaultMaxDatagrams)
	serverLink := link.NewUnconnectedDatagramLink(
		logger, serverConn, clientConn.LocalAddr().(*net.UDPAddr), obfuscator, link.DefaultMaxDatagrams)

	opts := &tunnel.Options{KeepAlive: cfg.KeepAlive()}
	client := tunnel.New(logger, clientLink, clientCodec, opts)
	server := tunnel.New(logger, serverLink, serverCodec, opts)

	keys, err := newLoopbackKeys(loopbackKeyID)
	if err == nil {
		if err = client.UpdateKeys(loopbackKeyID, keys); err == nil {
			err = server.UpdateKeys(loopbackKeyID, keys.Swapped())
		}
		keys.Wipe()
	}
	if err != nil {
		client.Close()
		server.Close()
		return nil, nil, err
	}
	return client, server, nil
}

// runLoopback sends count ICMP echo requests from a client tunnel to a
// server tunnel that answers them, then prints the stats of both ends.
func runLoopback(ctx context.Context, logger model.Logger, w io.Writer, configPath string, count int) error {
	cfg, err := loadConfig(logger, configPath)
	if err != nil {
		return err
	}
	client, server, err := newLoopbackTunnels(logger, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	defer server.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.SetDeadline(deadline)
		server.SetDeadline(deadline)
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	defer close(done)
	go func() {
		// a failed half must not leave the other one blocked in Read
		select {
		case <-gctx.Done():
			client.Close()
			server.Close()
		case <-done:
		}
	}()
	g.Go(func() error {
		return answerEchoes(server, count)
	})
	g.Go(func() error {
		return sendEchoes(logger, w, client, count)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	printStats(w, "client", client.Stats())
	printStats(w, "server", server.Stats())
	return nil
}

// answerEchoes replies to count echo requests.
func answerEchoes(tun *tunnel.Tunnel, count int) error {
	buf := make([]byte, 1<<16)
	for answered := 0; answered < count; answered++ {
		n, err := tun.Read(buf)
		if err != nil {
			return err
		}
		request, err := icmp.ParseEcho(buf[:n])
		if err != nil {
			return err
		}
		reply, err := request.ReplyTo().Serialize()
		if err != nil {
			return err
		}
		if _, err := tun.Write(reply); err != nil {
			return err
		}
	}
	return nil
}

// sendEchoes sends count echo requests, one at a time.
func sendEchoes(logger model.Logger, w io.Writer, tun *tunnel.Tunnel, count int) error {
	buf := make([]byte, 1<<16)
	for seq := 1; seq <= count; seq++ {
		request := &icmp.Echo{
			Src:     clientIP,
			Dst:     serverIP,
			ID:      uint16(startTime.UnixNano()),
			Seq:     uint16(seq),
			Payload: []byte(fmt.Sprintf("datapath loopback %d", seq)),
		}
		data, err := request.Serialize()
		if err != nil {
			return err
		}
		sent := time.Now()
		if _, err := tun.Write(data); err != nil {
			return err
		}
		n, err := tun.Read(buf)
		if err != nil {
			return err
		}
		reply, err := icmp.ParseEcho(buf[:n])
		if err != nil {
			return err
		}
		if !reply.Reply || reply.Seq != request.Seq || reply.ID != request.ID {
			return fmt.Errorf("%w: seq %d", errBadReply, reply.Seq)
		}
		logger.Debugf("datapath: echo reply seq=%d", reply.Seq)
		fmt.Fprintf(w, "%d bytes from %s: icmp_seq=%d time=%s\n",
			n, reply.Src, reply.Seq, time.Since(sent).Round(time.Microsecond))
	}
	return nil
}

func printStats(w io.Writer, name string, s tunnel.Stats) {
	fmt.Fprintf(w, "%s: out=%d/%dB in=%d/%dB dropped=%d (replay=%d auth=%d malformed=%d) pings=%d/%d\n",
		name, s.PacketsOut, s.BytesOut, s.PacketsIn, s.BytesIn, s.Dropped(),
		s.DroppedReplay, s.DroppedAuth, s.DroppedMalformed, s.PingsOut, s.PingsIn)
}
