package link

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/vpntest"
)

func TestDialer_DialContext(t *testing.T) {
	tests := []struct {
		name         string
		network      string
		wantReliable bool
	}{
		{"udp", "udp", false},
		{"udp4", "udp4", false},
		{"udp6", "udp6", false},
		{"tcp", "tcp", true},
		{"tcp4", "tcp4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &vpntest.Dialer{
				MockDialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
					return &vpntest.Conn{
						MockLocalAddr: func() net.Addr {
							return vpntest.NewAddr(tt.network, "10.0.0.2:1194")
						},
						MockRemoteAddr: func() net.Addr {
							return vpntest.NewAddr(tt.network, address)
						},
					}, nil
				},
			}
			d := NewDialer(model.NewTestLogger(), dialer, nil)
			l, err := d.DialContext(context.Background(), tt.network, "10.0.0.1:1194")
			if err != nil {
				t.Fatal(err)
			}
			if l.IsReliable() != tt.wantReliable {
				t.Fatalf("expected reliable=%v", tt.wantReliable)
			}
			if diff := cmp.Diff("10.0.0.1:1194", l.RemoteAddr().String()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestDialer_DialContextError(t *testing.T) {
	expected := errors.New("mocked error")
	dialer := &vpntest.Dialer{
		MockDialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, expected
		},
	}
	d := NewDialer(model.NewTestLogger(), dialer, nil)
	l, err := d.DialContext(context.Background(), "udp", "10.0.0.1:1194")
	if !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if l != nil {
		t.Fatal("expected nil link")
	}
}

func TestParseOBFS4URI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    *OBFS4Node
		wantErr error
	}{
		{
			name:    "empty uri returns error",
			uri:     "",
			wantErr: ErrBadProxyURI,
		},
		{
			name:    "bad scheme returns error",
			uri:     "http://server/",
			wantErr: ErrBadProxyURI,
		},
		{
			name:    "file scheme returns error",
			uri:     "file://foo/bar/baz",
			wantErr: ErrBadProxyURI,
		},
		{
			name:    "empty port returns error",
			uri:     "obfs4://foo/bar/baz",
			wantErr: ErrBadProxyURI,
		},
		{
			name:    "empty hostname returns error",
			uri:     "obfs4://:222/bar/baz",
			wantErr: ErrBadProxyURI,
		},
		{
			name:    "unparseable uri returns error",
			uri:     "obfs4://[::1:443",
			wantErr: ErrBadProxyURI,
		},
		{
			name: "happy path does not return error",
			uri:  "obfs4://proxy:4444?cert=deadbeef&iat-mode=0",
			want: &OBFS4Node{
				Addr: "proxy:4444",
				Values: url.Values{
					"cert":     []string{"deadbeef"},
					"iat-mode": []string{"0"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOBFS4URI(tt.uri)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseOBFS4URI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

// validCert returns a syntactically valid bridge certificate.
func validCert() string {
	raw := make([]byte, 52) // node id and public key
	for idx := range raw {
		raw[idx] = byte(idx)
	}
	return base64.RawStdEncoding.EncodeToString(raw)
}

func newTestNode(cert string) *OBFS4Node {
	return &OBFS4Node{
		Addr: "192.0.2.1:443",
		Values: url.Values{
			"cert":      []string{cert},
			"iat-mode":  []string{"0"},
			"state-dir": []string{"."},
		},
	}
}

func TestNewOBFS4Dialer(t *testing.T) {
	t.Run("invalid cert", func(t *testing.T) {
		_, err := NewOBFS4Dialer(model.NewTestLogger(), newTestNode("deadbeef"), nil)
		if !errors.Is(err, ErrBadProxyURI) {
			t.Fatalf("expected ErrBadProxyURI, got %v", err)
		}
	})

	t.Run("valid cert", func(t *testing.T) {
		node := newTestNode(validCert())
		d, err := NewOBFS4Dialer(model.NewTestLogger(), node, nil)
		if err != nil {
			t.Fatal(err)
		}
		if d.underlying == nil {
			t.Fatal("expected a default underlying dialer")
		}
		if node.Values.Get("state-dir") == "" {
			t.Fatal("should not modify the node values")
		}
	})
}

func TestOBFS4Dialer_DialContext(t *testing.T) {
	t.Run("underlying dial failure", func(t *testing.T) {
		expected := errors.New("mocked error")
		var gotAddress string
		underlying := &vpntest.Dialer{
			MockDialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				gotAddress = address
				return nil, expected
			},
		}
		d, err := NewOBFS4Dialer(model.NewTestLogger(), newTestNode(validCert()), underlying)
		if err != nil {
			t.Fatal(err)
		}
		conn, err := d.DialContext(context.Background(), "udp", "10.0.0.1:1194")
		if !errors.Is(err, expected) {
			t.Fatalf("expected %v, got %v", expected, err)
		}
		if conn != nil {
			t.Fatal("expected nil conn")
		}
		if gotAddress != "192.0.2.1:443" {
			t.Fatalf("should dial the bridge, dialed %q", gotAddress)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		unblock := make(chan struct{})
		underlying := &vpntest.Dialer{
			MockDialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				<-unblock
				return nil, errors.New("mocked error")
			},
		}
		d, err := NewOBFS4Dialer(model.NewTestLogger(), newTestNode(validCert()), underlying)
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cd := d.newCancellableDialer()
		conn, err := cd.dial(ctx, "tcp", d.node.Addr)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if conn != nil {
			t.Fatal("expected nil conn")
		}
		close(unblock)
		<-cd.done
	})
}
