// Command datapath exercises the data channel without a control channel.
//
// Usage:
//
//	datapath [-c config] [-n count] loopback
//	datapath --cipher AES-256-GCM --cipher-key HEX [--hmac-key HEX] [--packet-id N] [--ad HEX] --input HEX seal|open
//	datapath --key key.pem --pass PASSPHRASE [--out file] decrypt-key
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"
)

var (
	startTime = time.Now()
)

func printUsage() {
	fmt.Println("valid commands: loopback, seal, open, decrypt-key")
	getopt.Usage()
	os.Exit(0)
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optCount := getopt.Uint32Long("count", 'n', uint32(3), "Stop after sending these many ECHO_REQUEST packets")
	optTimeout := getopt.IntLong("timeout", 't', 10, "Timeout in seconds")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(4), "Verbosity level (1 to 5, 1 is lowest)")

	optCipher := getopt.StringLong("cipher", 0, "AES-256-GCM", "Cipher for seal and open")
	optAuth := getopt.StringLong("auth", 0, "SHA256", "HMAC digest for seal and open")
	optCipherKey := getopt.StringLong("cipher-key", 0, "", "Hex cipher key for seal and open")
	optHMACKey := getopt.StringLong("hmac-key", 0, "", "Hex HMAC key for seal and open")
	optPacketID := getopt.Uint32Long("packet-id", 0, 0, "Packet id for seal and open")
	optAD := getopt.StringLong("ad", 0, "", "Hex additional data for seal and open")
	optInput := getopt.StringLong("input", 'i', "", "Hex input for seal and open")
	optZeroIV := getopt.BoolLong("zero-iv", 0, "Use an all-zero CBC IV (for test vectors)")

	optKey := getopt.StringLong("key", 'k', "", "Private key for decrypt-key")
	optPass := getopt.StringLong("pass", 'p', "", "Passphrase for decrypt-key")
	optOut := getopt.StringLong("out", 'o', "", "Output file for decrypt-key (default: stdout)")

	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()
	args := getopt.Args()

	if *helpFlag || len(args) != 1 {
		printUsage()
	}

	verbosityLevel := log.InfoLevel
	switch *optVerbosity {
	case uint16(1):
		verbosityLevel = log.FatalLevel
	case uint16(2):
		verbosityLevel = log.ErrorLevel
	case uint16(3):
		verbosityLevel = log.WarnLevel
	case uint16(4):
		verbosityLevel = log.InfoLevel
	default:
		verbosityLevel = log.DebugLevel
	}
	logger := &log.Logger{Level: verbosityLevel, Handler: &logHandler{Writer: os.Stderr}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*optTimeout)*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "loopback":
		err = runLoopback(ctx, logger, os.Stdout, *optConfig, int(*optCount))
	case "seal", "open":
		err = runOneShot(os.Stdout, &oneShot{
			open:      args[0] == "open",
			cipher:    *optCipher,
			auth:      *optAuth,
			cipherKey: *optCipherKey,
			hmacKey:   *optHMACKey,
			packetID:  *optPacketID,
			ad:        *optAD,
			input:     *optInput,
			zeroIV:    *optZeroIV,
		})
	case "decrypt-key":
		err = runDecryptKey(os.Stdout, *optKey, *optPass, *optOut)
	default:
		printUsage()
	}
	if err != nil {
		logger.WithError(err).Error(args[0])
		os.Exit(1)
	}
}

type logHandler struct {
	io.Writer
}

func (h *logHandler) HandleLog(e *log.Entry) (err error) {
	var s string
	if e.Level == log.DebugLevel {
		s = fmt.Sprintf("%s", e.Message)
	} else if e.Level == log.ErrorLevel {
		s = fmt.Sprintf("[%14.6f] <!err> %s", time.Since(startTime).Seconds(), e.Message)
	} else {
		s = fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	}
	if len(e.Fields) > 0 {
		s += fmt.Sprintf(": %+v", e.Fields)
	}
	s += "\n"
	_, err = h.Writer.Write([]byte(s))
	return
}
