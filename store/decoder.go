package store

import "encoding/base64"

// Decoder is the capability an ENCRYPTED table or MZ file needs to turn
// stored payload bytes into plaintext. It is modeled as an optional
// capability a Store holds: operations on ENCRYPTED tables fail cleanly
// with DecoderUnavailable if one isn't configured.
type Decoder interface {
	Decode(payload []byte) ([]byte, error)
}

// base64Decoder is the trivial default: plain base64 decoding with no
// external plugin involved. It exists so ENCRYPTED-table tests and
// simple deployments work without wiring a real plugin; it is not a
// stand-in for actual encryption.
type base64Decoder struct{}

func (base64Decoder) Decode(payload []byte) ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(payload))
}

// DefaultDecoder returns the stdlib base64 decoder described above.
func DefaultDecoder() Decoder { return base64Decoder{} }

// requireDecoder returns DecoderUnavailable if d is nil — the required
// failure mode for ENCRYPTED content without a decoder configured.
func requireDecoder(d Decoder) (Decoder, *Error) {
	if d == nil {
		return nil, Errorf(KindDecoderUnavailable, "E090", "table is ENCRYPTED but no decoder is configured")
	}
	return d, nil
}
