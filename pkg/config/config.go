// Package config contains the options used to initialize a data-channel
// tunnel.
package config

import (
	"net"
	"time"

	"github.com/apex/log"

	"github.com/ooni/vpndatapath/internal/datachannel"
	"github.com/ooni/vpndatapath/internal/link"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
	"github.com/ooni/vpndatapath/internal/runtimex"
)

// Config contains options to initialize the data-channel tunnel.
type Config struct {
	// openvpnOptions contains options related to openvpn.
	openvpnOptions *OpenVPNOptions

	// logger will be used to log events.
	logger model.Logger
}

// NewConfig returns a Config ready to intialize a vpn tunnel.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		openvpnOptions: &OpenVPNOptions{},
		logger:         log.Log,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize the tunnel.
type Option func(config *Config)

// WithLogger configures the passed [Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// WithConfigFile configures OpenVPNOptions parsed from the given file.
func WithConfigFile(configPath string) Option {
	return func(config *Config) {
		openvpnOpts, err := ReadConfigFile(configPath)
		runtimex.PanicOnError(err, "cannot parse config file")
		config.openvpnOptions = openvpnOpts
	}
}

// WithOpenVPNOptions configures the passed OpenVPN options.
func WithOpenVPNOptions(openvpnOptions *OpenVPNOptions) Option {
	return func(config *Config) {
		config.openvpnOptions = openvpnOptions
	}
}

// OpenVPNOptions returns the configured openvpn options.
func (c *Config) OpenVPNOptions() *OpenVPNOptions {
	return c.openvpnOptions
}

// Remote has info about the OpenVPN remote, useful to pass to the external dialer.
type Remote struct {
	// IPAddr is the IP Address for the remote.
	IPAddr string

	// Endpoint is in the form ip:port.
	Endpoint string

	// Protocol is either "tcp" or "udp"
	Protocol string
}

// Remote returns the OpenVPN remote.
func (c *Config) Remote() *Remote {
	proto := c.openvpnOptions.Proto
	if proto == "" {
		proto = ProtoUDP
	}
	return &Remote{
		IPAddr:   c.openvpnOptions.Remote,
		Endpoint: net.JoinHostPort(c.openvpnOptions.Remote, c.openvpnOptions.Port),
		Protocol: proto.String(),
	}
}

// DataChannelOptions returns the options for [datachannel.New]. The replay
// time is used as the jump threshold.
func (c *Config) DataChannelOptions() *datachannel.Options {
	o := c.openvpnOptions
	opts := &datachannel.Options{
		Cipher:        o.Cipher,
		Auth:          o.Auth,
		Compress:      o.Compress,
		ReplayWindow:  o.ReplayWindow,
		JumpThreshold: o.ReplayTime,
	}
	if o.PeerID != nil {
		peerID := *o.PeerID
		opts.PeerID = &peerID
	}
	return opts
}

// KeepAlive returns the ping interval, or zero when disabled.
func (c *Config) KeepAlive() time.Duration {
	return c.openvpnOptions.KeepAliveInterval
}

// KeepAliveTimeout returns how long the peer may stay silent, or zero.
func (c *Config) KeepAliveTimeout() time.Duration {
	return c.openvpnOptions.KeepAliveTimeout
}

// Obfuscator returns the obfuscator for the configured scramble mode.
func (c *Config) Obfuscator() (*obfuscation.Obfuscator, error) {
	return obfuscation.New(c.openvpnOptions.ScrambleMode, c.openvpnOptions.ScrambleMask)
}

// Dialer returns the dialer for the link: the obfs4 bridge when configured,
// a [net.Dialer] otherwise.
func (c *Config) Dialer() (model.Dialer, error) {
	if c.openvpnOptions.ProxyOBFS4 == "" {
		return &net.Dialer{Timeout: 15 * time.Second}, nil
	}
	node, err := link.ParseOBFS4URI(c.openvpnOptions.ProxyOBFS4)
	if err != nil {
		return nil, err
	}
	dialer, err := link.NewOBFS4Dialer(c.logger, node, nil)
	if err != nil {
		return nil, err
	}
	return dialer, nil
}
