package wire

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"strconv"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
)

// Envelope is the outer signed_data wrapper. Data is kept as the exact
// bytes the sender signed — json.RawMessage round-trips byte-for-byte
// through Marshal/Unmarshal, so a verifier never re-serializes the payload
// it is checking a signature against.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Counter   uint64          `json:"counter"`
	Signature string          `json:"signature"`
}

// Build marshals payload once, signs the concatenation of those bytes and
// the ASCII-decimal counter, and returns the signed envelope ready to
// marshal onto the wire.
func Build(payload interface{}, counter uint64, priv *rsa.PrivateKey) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Envelope("failed to marshal payload", err)
	}
	sig, err := olafcrypto.Sign(priv, signingInput(data, counter))
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      "signed_data",
		Data:      data,
		Counter:   counter,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Marshal serializes the envelope to the wire frame bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errs.Envelope("failed to marshal envelope", err)
	}
	return b, nil
}

// ParseEnvelope decodes a wire frame into an Envelope without authenticating
// it — authentication requires the sender's known public key and last-seen
// counter, supplied separately to Verify.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errs.Envelope("bad JSON", err)
	}
	if env.Type != "signed_data" {
		return nil, errs.Envelope("missing or unexpected type field", nil)
	}
	if len(env.Data) == 0 {
		return nil, errs.Envelope("missing data field", nil)
	}
	if env.Signature == "" {
		return nil, errs.Envelope("missing signature field", nil)
	}
	return &env, nil
}

// Verify authenticates env against pub and lastCounter: the signature must
// cover the exact bytes received, and the counter must be strictly greater
// than the last one accepted from this sender.
func Verify(env *Envelope, pub *rsa.PublicKey, lastCounter uint64) error {
	if env.Counter <= lastCounter {
		metrics.EnvelopeRejections.WithLabelValues("stale_counter").Inc()
		return errs.Envelope("counter did not strictly increase", nil)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		metrics.EnvelopeRejections.WithLabelValues("bad_signature_encoding").Inc()
		return errs.Envelope("malformed signature encoding", err)
	}
	if err := olafcrypto.Verify(pub, signingInput(env.Data, env.Counter), sig); err != nil {
		metrics.EnvelopeRejections.WithLabelValues("bad_signature").Inc()
		return errs.Envelope("signature verification failed", err)
	}
	return nil
}

// InnerType reads the "type" discriminant out of env.Data without decoding
// the full payload.
func InnerType(env *Envelope) (string, error) {
	var it innerType
	if err := json.Unmarshal(env.Data, &it); err != nil {
		return "", errs.Envelope("bad JSON in data field", err)
	}
	if it.Type == "" {
		return "", errs.Envelope("missing inner type", nil)
	}
	return it.Type, nil
}

// signingInput is the concatenation that must be signed: the exact data bytes
// followed by the ASCII decimal counter, with no separator.
func signingInput(data json.RawMessage, counter uint64) []byte {
	out := make([]byte, 0, len(data)+20)
	out = append(out, data...)
	out = append(out, []byte(strconv.FormatUint(counter, 10))...)
	return out
}
