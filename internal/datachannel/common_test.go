package datachannel

import (
	"testing"

	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/session"
)

// makeTestKeys returns deterministic client-side session keys.
func makeTestKeys(t *testing.T) *session.Keys {
	t.Helper()
	client := &session.KeySource{}
	server := &session.KeySource{}
	for i := range client.PreMaster {
		client.PreMaster[i] = byte(3 * i)
	}
	for i := range client.R1 {
		client.R1[i] = byte(i)
		client.R2[i] = byte(0x20 + i)
		server.R1[i] = byte(0x40 + i)
		server.R2[i] = byte(0x60 + i)
	}
	keys, err := session.ExpandKeys(client, server, []byte("cccccccc"), []byte("ssssssss"))
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

// makeTestPair returns a configured client codec and the matching server codec.
func makeTestPair(t *testing.T, options *Options) (*Codec, *Codec) {
	t.Helper()
	keys := makeTestKeys(t)
	client, err := New(model.NewTestLogger(), options)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SetupKeys(keys); err != nil {
		t.Fatal(err)
	}
	server, err := New(model.NewTestLogger(), options)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SetupKeys(keys.Swapped()); err != nil {
		t.Fatal(err)
	}
	return client, server
}

func peerID(v uint32) *uint32 {
	return &v
}

// mustEncrypt encrypts payload or fails the test.
func mustEncrypt(t *testing.T, c *Codec, payload []byte) []byte {
	t.Helper()
	out, err := c.EncryptOutbound(payload)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
