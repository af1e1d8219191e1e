package config

//
// Parse VPN options.
//
// Mostly, this file conforms to the format in the reference implementation.
// Only the options affecting the data channel and the link beneath it are
// understood; everything else is logged and skipped.
//
// The `ca`, `cert` and `key` options either name a file below the directory
// of the configuration file, or are given inline. Each inline file is started
// by the line <option> and ended by the line </option>:
//
// ```
// <cert>
// -----BEGIN CERTIFICATE-----
// [...]
// -----END CERTIFICATE-----
// </cert>
// ```

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ooni/vpndatapath/internal/cryptocontainer"
	"github.com/ooni/vpndatapath/internal/cryptosuite"
	"github.com/ooni/vpndatapath/internal/link"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/obfuscation"
	"github.com/ooni/vpndatapath/internal/replay"
)

// Proto is the main vpn mode (e.g., TCP or UDP).
type Proto string

var _ fmt.Stringer = Proto("")

// String implements fmt.Stringer
func (p Proto) String() string {
	return string(p)
}

// ProtoTCP is used for vpn in TCP mode.
const ProtoTCP = Proto("tcp")

// ProtoUDP is used for vpn in UDP mode.
const ProtoUDP = Proto("udp")

// ErrBadConfig is the generic error returned for invalid config files
var ErrBadConfig = errors.New("openvpn: bad config")

// maxPeerID is the largest peer-id that fits P_DATA_V2.
const maxPeerID = 1<<24 - 1

// OpenVPNOptions make all the relevant openvpn configuration options accessible to the
// different modules that need it.
type OpenVPNOptions struct {
	// These options have the same name of OpenVPN options referenced in the official documentation:
	Remote   string
	Port     string
	Proto    Proto
	Cipher   string
	Auth     string
	Compress model.Compression
	PeerID   *uint32
	CA       cryptocontainer.Container
	Cert     cryptocontainer.Container
	Key      cryptocontainer.Container

	// ReplayWindow and ReplayTime are the two replay-window arguments.
	ReplayWindow int
	ReplayTime   int

	// KeepAliveInterval and KeepAliveTimeout come from keepalive.
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	// Passphrase is read from the askpass file.
	Passphrase string

	// Below are options that do not conform strictly to the OpenVPN configuration format, but still can
	// be understood by us in a configuration file:

	ScrambleMode obfuscation.Mode
	ScrambleMask []byte
	ProxyOBFS4   string
}

// ReadConfigFile expects a string with a path to a valid config file,
// and returns a pointer to a Options struct after parsing the file, and an
// error if the operation could not be completed.
func ReadConfigFile(filePath string) (*OpenVPNOptions, error) {
	lines, err := getLinesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	dir, _ := filepath.Split(filePath)
	return getOptionsFromLines(log.Log, lines, dir)
}

// HasKeyPair returns true if we have both a certificate and a private key.
func (o *OpenVPNOptions) HasKeyPair() bool {
	return !o.Cert.IsEmpty() && !o.Key.IsEmpty()
}

func parseProto(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "proto needs one arg")
	}
	m := strings.TrimSuffix(strings.TrimSuffix(p[0], "-client"), "4")
	switch m {
	case ProtoUDP.String():
		o.Proto = ProtoUDP
	case ProtoTCP.String():
		o.Proto = ProtoTCP
	default:
		return fmt.Errorf("%w: bad proto: %s", ErrBadConfig, p[0])
	}
	return nil
}

func parseRemote(p []string, o *OpenVPNOptions) error {
	if len(p) != 2 && len(p) != 3 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "remote needs two or three args")
	}
	port, err := strconv.Atoi(p[1])
	if err != nil || port <= 0 || port > math.MaxUint16 {
		return fmt.Errorf("%w: bad port: %s", ErrBadConfig, p[1])
	}
	o.Remote, o.Port = p[0], p[1]
	if len(p) == 3 {
		return parseProto(p[2:], o)
	}
	return nil
}

// hasName returns whether name is in names, ignoring case.
func hasName(name string, names []string) bool {
	for _, v := range names {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

func parseCipher(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "cipher expects one arg")
	}
	cipher := p[0]
	if !strings.EqualFold(cipher, "none") && !hasName(cipher, cryptosuite.SupportedCiphers()) {
		return fmt.Errorf("%w: unsupported cipher: %s", ErrBadConfig, cipher)
	}
	o.Cipher = cipher
	return nil
}

func parseAuth(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "invalid auth entry")
	}
	auth := p[0]
	if !hasName(auth, cryptosuite.SupportedDigests()) {
		return fmt.Errorf("%w: unsupported auth: %s", ErrBadConfig, auth)
	}
	o.Auth = auth
	return nil
}

func parseCompress(p []string, o *OpenVPNOptions) error {
	if len(p) > 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "compress expects at most one arg")
	}
	if len(p) == 0 {
		o.Compress = model.CompressionEmpty
		return nil
	}
	c, err := model.ParseCompression(p[0])
	if err != nil || c == model.CompressionNone || c == model.CompressionLZONo {
		return fmt.Errorf("%w: compress: unsupported algorithm: %s", ErrBadConfig, p[0])
	}
	o.Compress = c
	return nil
}

func parseCompLZO(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 || p[0] != "no" {
		return fmt.Errorf("%w: %s", ErrBadConfig, "comp-lzo: compression not supported")
	}
	o.Compress = model.CompressionLZONo
	return nil
}

func parsePeerID(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "peer-id expects one arg")
	}
	v, err := strconv.ParseUint(p[0], 10, 32)
	if err != nil || v > maxPeerID {
		return fmt.Errorf("%w: bad peer-id: %s", ErrBadConfig, p[0])
	}
	peerID := uint32(v)
	o.PeerID = &peerID
	return nil
}

// parsePositiveInts parses every argument as a non-negative int.
func parsePositiveInts(key string, p []string) ([]int, error) {
	out := make([]int, 0, len(p))
	for _, s := range p {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %s: bad value: %s", ErrBadConfig, key, s)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseReplayWindow(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 && len(p) != 2 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "replay-window expects one or two args")
	}
	v, err := parsePositiveInts("replay-window", p)
	if err != nil {
		return err
	}
	if v[0] == 0 || v[0] > replay.MaxWindowSize {
		return fmt.Errorf("%w: replay-window: size must be between 1 and %d", ErrBadConfig, replay.MaxWindowSize)
	}
	o.ReplayWindow = v[0]
	if len(v) == 2 {
		o.ReplayTime = v[1]
	}
	return nil
}

func parseKeepAlive(p []string, o *OpenVPNOptions) error {
	if len(p) != 2 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "keepalive expects two args")
	}
	v, err := parsePositiveInts("keepalive", p)
	if err != nil {
		return err
	}
	if v[0] == 0 || v[1] < v[0] {
		return fmt.Errorf("%w: %s", ErrBadConfig, "keepalive: timeout must not be shorter than interval")
	}
	o.KeepAliveInterval = time.Duration(v[0]) * time.Second
	o.KeepAliveTimeout = time.Duration(v[1]) * time.Second
	return nil
}

func parseScramble(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 && len(p) != 2 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "scramble expects a mode and an optional mask")
	}
	mode, err := obfuscation.ParseMode(p[0])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	var mask []byte
	if len(p) == 2 {
		mask = []byte(p[1])
	}
	// validate now so that a bad mask is a config error
	if _, err := obfuscation.New(mode, mask); err != nil {
		return fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	o.ScrambleMode, o.ScrambleMask = mode, mask
	return nil
}

func parseProxyOBFS4(p []string, o *OpenVPNOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "proxy-obfs4: need a properly configured proxy")
	}
	if _, err := link.ParseOBFS4URI(p[0]); err != nil {
		return fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	o.ProxyOBFS4 = p[0]
	return nil
}

// readBelow reads a file that must be below basedir.
func readBelow(key string, p []string, basedir string) (string, error) {
	e := fmt.Errorf("%w: %s expects a valid file", ErrBadConfig, key)
	if len(p) != 1 {
		return "", e
	}
	path := toAbs(p[0], basedir)
	if sub, _ := isSubdir(basedir, path); !sub {
		return "", fmt.Errorf("%w: %s must be below config path", ErrBadConfig, key)
	}
	if !existsFile(path) {
		return "", e
	}
	return path, nil
}

func parseContainer(key string, dst *cryptocontainer.Container) func([]string, *OpenVPNOptions, string) error {
	return func(p []string, o *OpenVPNOptions, basedir string) error {
		path, err := readBelow(key, p, basedir)
		if err != nil {
			return err
		}
		c, err := cryptocontainer.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrBadConfig, key, err.Error())
		}
		if c.IsEmpty() {
			return fmt.Errorf("%w: %s: no PEM block found", ErrBadConfig, key)
		}
		*dst = c
		return nil
	}
}

// parseAskPass reads the private key passphrase from the first line of a
// file. To avoid path traversal, the file must be below the base dir.
func parseAskPass(p []string, o *OpenVPNOptions, basedir string) error {
	path, err := readBelow("askpass", p, basedir)
	if err != nil {
		return err
	}
	lines, err := getLinesFromFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	if len(lines) == 0 || len(lines[0]) == 0 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "empty passphrase in askpass file")
	}
	o.Passphrase = lines[0]
	return nil
}

func parseOption(logger model.Logger, o *OpenVPNOptions, dir, key string, p []string, lineno int) error {
	switch key {
	case "proto":
		return parseProto(p, o)
	case "remote":
		return parseRemote(p, o)
	case "cipher":
		return parseCipher(p, o)
	case "auth":
		return parseAuth(p, o)
	case "compress":
		return parseCompress(p, o)
	case "comp-lzo":
		return parseCompLZO(p, o)
	case "peer-id":
		return parsePeerID(p, o)
	case "replay-window":
		return parseReplayWindow(p, o)
	case "keepalive":
		return parseKeepAlive(p, o)
	case "scramble":
		return parseScramble(p, o)
	case "proxy-obfs4":
		return parseProxyOBFS4(p, o)
	case "ca":
		return parseContainer(key, &o.CA)(p, o, dir)
	case "cert":
		return parseContainer(key, &o.Cert)(p, o, dir)
	case "key":
		return parseContainer(key, &o.Key)(p, o, dir)
	case "askpass":
		return parseAskPass(p, o, dir)
	default:
		logger.Warnf("config: unsupported key %q in line %d", key, lineno+1)
		return nil
	}
}

// getOptionsFromLines tries to parse all the lines coming from a config file
// and raises validation errors if the values do not conform to the expected
// format. The config file supports inline file inclusion for <ca>, <cert> and <key>.
func getOptionsFromLines(logger model.Logger, lines []string, dir string) (*OpenVPNOptions, error) {
	opt := &OpenVPNOptions{}

	// tag and inlineBuf are used to parse inline files.
	// each block (any of ca, key, cert) is marked by a <option> line, and
	// closed by a </option> line; lines in between are expected to contain
	// the crypto block.
	tag := ""
	inlineBuf := new(bytes.Buffer)

	for lineno, l := range lines {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "#") || strings.HasPrefix(l, ";") {
			continue
		}

		// inline certs
		if isClosingTag(l) {
			if tag == "" || parseTag(l) != tag {
				return nil, fmt.Errorf("%w: unexpected %s in line %d", ErrBadConfig, l, lineno+1)
			}
			if e := parseInlineTag(opt, tag, inlineBuf); e != nil {
				return nil, e
			}
			tag = ""
			inlineBuf = new(bytes.Buffer)
			continue
		}
		if tag != "" {
			inlineBuf.WriteString(l)
			inlineBuf.WriteString("\n")
			continue
		}
		if isOpeningTag(l) {
			tag = parseTag(l)
			continue
		}

		// parse parts in the same line
		p := strings.Fields(l)
		if len(p) == 0 {
			continue
		}
		key, parts := p[0], p[1:]
		if e := parseOption(logger, opt, dir, key, parts, lineno); e != nil {
			return nil, e
		}
	}
	if tag != "" {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, "tag not closed")
	}

	if opt.Key.IsEncrypted() && opt.Passphrase != "" {
		key, err := opt.Key.Decrypted(opt.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: key: %s", ErrBadConfig, err.Error())
		}
		opt.Key = key
	}
	return opt, nil
}

func isOpeningTag(key string) bool {
	switch key {
	case "<ca>", "<cert>", "<key>":
		return true
	default:
		return false
	}
}

func isClosingTag(key string) bool {
	switch key {
	case "</ca>", "</cert>", "</key>":
		return true
	default:
		return false
	}
}

func parseTag(tag string) string {
	switch tag {
	case "<ca>", "</ca>":
		return "ca"
	case "<cert>", "</cert>":
		return "cert"
	case "<key>", "</key>":
		return "key"
	default:
		return ""
	}
}

// parseInlineTag
func parseInlineTag(o *OpenVPNOptions, tag string, buf *bytes.Buffer) error {
	c := cryptocontainer.FromRawText(buf.String())
	if c.IsEmpty() {
		return fmt.Errorf("%w: empty inline tag: %s", ErrBadConfig, tag)
	}
	switch tag {
	case "ca":
		o.CA = c
	case "cert":
		o.Cert = c
	case "key":
		o.Key = c
	default:
		return fmt.Errorf("%w: unknown tag: %s", ErrBadConfig, tag)
	}
	return nil
}

// existsFile returns true if the file to which the path refers to exists and
// is a regular file.
func existsFile(path string) bool {
	statbuf, err := os.Stat(path)
	return err == nil && statbuf.Mode().IsRegular()
}

// getLinesFromFile accepts a path parameter, and return a string array with
// its content and an error if the operation cannot be completed.
func getLinesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// toAbs return an absolute path if the given path is not already absolute; to
// do so, it will append the path to the given basedir.
func toAbs(path, basedir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(basedir, path)
}

// isSubdir checks if a given path is a subdirectory of another. It returns
// true if that's the case, and any error raise during the check.
func isSubdir(parent, sub string) (bool, error) {
	p, err := filepath.Abs(parent)
	if err != nil {
		return false, err
	}
	s, err := filepath.Abs(sub)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(p, s)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
