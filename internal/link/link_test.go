package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
	"github.com/ooni/vpndatapath/internal/vpntest"
)

// collector gathers what a read handler receives.
type collector struct {
	packets chan []byte
	errs    chan error
}

func newCollector() *collector {
	return &collector{
		packets: make(chan []byte, 128),
		errs:    make(chan error, 1),
	}
}

func (c *collector) handle(packets [][]byte, err error) {
	if err != nil {
		c.errs <- err
		return
	}
	for _, pkt := range packets {
		c.packets <- pkt
	}
}

// expect waits for the given packets in order. The handler queues packets
// before it reports an error, so queued packets win over a pending error.
func (c *collector) expect(t *testing.T, want ...[]byte) {
	t.Helper()
	for idx, w := range want {
		got, err := c.next()
		if err != nil {
			t.Fatalf("packet %d: %v", idx, err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Fatalf("packet %d: %s", idx, diff)
		}
	}
}

// next returns the next queued packet. A terminal error is put back so that
// expectError can still observe it.
func (c *collector) next() ([]byte, error) {
	select {
	case got := <-c.packets:
		return got, nil
	default:
	}
	select {
	case got := <-c.packets:
		return got, nil
	case err := <-c.errs:
		select {
		case got := <-c.packets:
			c.errs <- err
			return got, nil
		default:
		}
		c.errs <- err
		return nil, fmt.Errorf("unexpected error: %w", err)
	case <-time.After(5 * time.Second):
		return nil, errors.New("timeout")
	}
}

// expectError waits for the terminal error.
func (c *collector) expectError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the read error")
		return nil
	}
}

func TestCollector_PacketsBeforeError(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := newCollector()
		c.handle([][]byte{[]byte("one"), []byte("two")}, nil)
		c.handle(nil, io.EOF)
		c.expect(t, []byte("one"), []byte("two"))
		if err := c.expectError(t); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	}
}

func mustObfuscator(t *testing.T) *obfuscation.Obfuscator {
	t.Helper()
	obf, err := obfuscation.New(obfuscation.ModeObfuscate, []byte("mask"))
	if err != nil {
		t.Fatal(err)
	}
	return obf
}

func TestStreamLink(t *testing.T) {
	left, right := net.Pipe()
	obf := mustObfuscator(t)
	a := NewStreamLink(model.NewTestLogger(), left, obf)
	b := NewStreamLink(model.NewTestLogger(), right, obf)
	defer a.Close()
	defer b.Close()

	if !a.IsReliable() {
		t.Fatal("stream links should be reliable")
	}

	recv := newCollector()
	b.SetReadHandler(recv.handle)

	packets := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0x42}, 3000),
	}
	go func() {
		if err := a.WritePackets(packets); err != nil {
			t.Error(err)
		}
	}()
	recv.expect(t, packets...)
}

func TestStreamFramer_WireFormat(t *testing.T) {
	var written []byte
	conn := &vpntest.Conn{
		MockWrite: func(b []byte) (int, error) {
			written = append(written, b...)
			return len(b), nil
		},
	}
	f := newStreamFramer(conn)
	if err := f.writePackets([][]byte{{0x01, 0x02}, {0x03}}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x02, 0x01, 0x02, 0x00, 0x01, 0x03}
	if diff := cmp.Diff(want, written); diff != "" {
		t.Fatal(diff)
	}
}

func TestStreamFramer_ShortRead(t *testing.T) {
	input := bytes.NewReader([]byte{0x00, 0x05, 0x01, 0x02})
	conn := &vpntest.Conn{MockRead: input.Read}
	f := newStreamFramer(conn)
	if _, err := f.readPackets(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestWritePackets_TooLarge(t *testing.T) {
	conn := &vpntest.Conn{
		MockWrite: func(b []byte) (int, error) {
			t.Fatal("should not write")
			return 0, nil
		},
	}
	for _, l := range []Link{
		NewStreamLink(model.NewTestLogger(), conn, nil),
		NewDatagramLink(model.NewTestLogger(), conn, nil, 0),
	} {
		err := l.WritePacket(make([]byte, maxPacketSize+1))
		if !errors.Is(err, ErrPacketTooLarge) {
			t.Fatalf("expected ErrPacketTooLarge, got %v", err)
		}
	}
}

func TestDatagramLink_MockConn(t *testing.T) {
	reads := [][]byte{[]byte("one"), []byte("two")}
	var written [][]byte
	conn := &vpntest.Conn{
		MockRead: func(b []byte) (int, error) {
			if len(reads) == 0 {
				return 0, io.EOF
			}
			n := copy(b, reads[0])
			reads = reads[1:]
			return n, nil
		},
		MockWrite: func(b []byte) (int, error) {
			written = append(written, append([]byte{}, b...))
			return len(b), nil
		},
	}
	l := NewDatagramLink(model.NewTestLogger(), conn, nil, 0)
	defer l.Close()

	if l.IsReliable() {
		t.Fatal("datagram links should not be reliable")
	}
	if l.PacketBufferSize() != maxPacketSize {
		t.Fatal("unexpected packet buffer size")
	}

	if err := l.WritePackets([][]byte{[]byte("a"), []byte("b")}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]byte{[]byte("a"), []byte("b")}, written); diff != "" {
		t.Fatal(diff)
	}

	recv := newCollector()
	l.SetReadHandler(recv.handle)
	recv.expect(t, []byte("one"), []byte("two"))
	if err := recv.expectError(t); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDatagramLink_WriteError(t *testing.T) {
	expected := errors.New("mocked error")
	conn := &vpntest.Conn{
		MockWrite: func(b []byte) (int, error) {
			return 0, expected
		},
	}
	l := NewDatagramLink(model.NewTestLogger(), conn, nil, 0)
	if err := l.WritePacket([]byte("x")); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func TestSetReadHandler_Twice(t *testing.T) {
	conn := &vpntest.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, io.EOF
		},
	}
	l := NewDatagramLink(model.NewTestLogger(), conn, nil, 0)
	defer l.Close()
	l.SetReadHandler(func([][]byte, error) {})
	vpntest.AssertPanic(t, func() {
		l.SetReadHandler(func([][]byte, error) {})
	})
}

func TestDatagramLink_UDP(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skip("cannot listen on loopback:", err)
	}
	client, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		server.Close()
		t.Skip("cannot dial loopback:", err)
	}

	obf := mustObfuscator(t)
	clientLink := NewDatagramLink(model.NewTestLogger(), client, obf, 4)
	serverLink := NewUnconnectedDatagramLink(
		model.NewTestLogger(), server, client.LocalAddr().(*net.UDPAddr), obf, 4)

	if diff := cmp.Diff(client.LocalAddr().String(), serverLink.RemoteAddr().String()); diff != "" {
		t.Fatal(diff)
	}

	fromClient := newCollector()
	fromServer := newCollector()
	serverLink.SetReadHandler(fromClient.handle)
	clientLink.SetReadHandler(fromServer.handle)

	// more packets than a single batch
	var packets [][]byte
	for idx := 0; idx < 10; idx++ {
		packets = append(packets, bytes.Repeat([]byte{byte(idx)}, 100+idx))
	}
	if err := clientLink.WritePackets(packets); err != nil {
		t.Fatal(err)
	}
	fromClient.expect(t, packets...)

	if err := serverLink.WritePacket([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	fromServer.expect(t, []byte("pong"))

	if err := clientLink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := clientLink.Close(); err != nil {
		t.Fatal("second close should be a no-op:", err)
	}
	if err := fromServer.expectError(t); err == nil {
		t.Fatal("expected an error after close")
	}
	serverLink.Close()
}

func TestCloseOnceConn(t *testing.T) {
	var count int
	conn := &vpntest.Conn{
		MockClose: func() error {
			count++
			return nil
		},
	}
	wrapped := newCloseOnceConn(conn)
	if newCloseOnceConn(wrapped) != wrapped {
		t.Fatal("should not wrap twice")
	}
	wrapped.Close()
	wrapped.Close()
	if count != 1 {
		t.Fatalf("expected one close, got %d", count)
	}
}
