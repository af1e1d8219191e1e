package cryptosuite

import "errors"

var (
	// ErrUnsupportedAlgorithm means the cipher or digest name is unknown.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrMalformedPacket means the input is too short or misaligned.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrAuthenticationFailed means tag verification or padding failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConfigured means no keys were configured yet.
	ErrNotConfigured = errors.New("cipher suite not configured")

	// ErrWrongDirection means the suite is configured for the other direction.
	ErrWrongDirection = errors.New("cipher suite configured for the other direction")

	// ErrInvalidKey means the key material is missing or too short.
	ErrInvalidKey = errors.New("invalid key material")
)
