package wire

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"sort"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// Recipient pairs a fingerprint with its home-server address and public key,
// the shape the client directory hands to BuildChat.
type Recipient struct {
	Fingerprint string
	HomeServer  string
	PublicKey   *rsa.PublicKey
}

// BuildChat groups recipients by home server (sorted-unique
// destination_servers), wraps a fresh AES key once per recipient,
// and seals the inner participants/message JSON under that key.
func BuildChat(senderFingerprint string, recipients []Recipient, message string) (*ChatPayload, error) {
	if len(recipients) == 0 {
		return nil, errs.Envelope("chat requires at least one recipient", nil)
	}

	destinations := uniqueSortedServers(recipients)

	key, err := olafcrypto.GenerateAESKey()
	if err != nil {
		return nil, err
	}
	iv, err := olafcrypto.GenerateNonce()
	if err != nil {
		return nil, err
	}

	participants := make([]string, 0, len(recipients)+1)
	participants = append(participants, senderFingerprint)

	symmKeys := make([]string, 0, len(recipients))
	for _, dest := range destinations {
		for _, r := range recipients {
			if r.HomeServer != dest {
				continue
			}
			wrapped, err := olafcrypto.WrapKey(r.PublicKey, key)
			if err != nil {
				return nil, err
			}
			symmKeys = append(symmKeys, base64.StdEncoding.EncodeToString(wrapped))
			participants = append(participants, r.Fingerprint)
		}
	}

	inner := ChatInner{Participants: participants, Message: message}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return nil, errs.Envelope("failed to marshal chat body", err)
	}
	sealed, err := olafcrypto.SealGCM(key, iv, innerJSON)
	if err != nil {
		return nil, err
	}

	return &ChatPayload{
		Type:               TypeChat,
		DestinationServers: destinations,
		IV:                 base64.StdEncoding.EncodeToString(iv),
		SymmKeys:           symmKeys,
		Chat:               base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// OpenChat tries each symm_keys slot against priv until one unwraps
// successfully, then decrypts and authenticates the inner body. Callers
// MUST try every slot — positional matching between symm_keys and any
// recipient list is not guaranteed.
func OpenChat(payload *ChatPayload, priv *rsa.PrivateKey, localFingerprint string) (*ChatInner, error) {
	iv, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil {
		return nil, errs.Envelope("malformed iv encoding", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(payload.Chat)
	if err != nil {
		return nil, errs.Envelope("malformed chat encoding", err)
	}

	var lastErr error
	for _, encoded := range payload.SymmKeys {
		wrapped, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			lastErr = err
			continue
		}
		key, err := olafcrypto.UnwrapKey(priv, wrapped)
		if err != nil {
			lastErr = err
			continue
		}
		plaintext, err := olafcrypto.OpenGCM(key, iv, sealed)
		if err != nil {
			lastErr = err
			continue
		}
		var inner ChatInner
		if err := json.Unmarshal(plaintext, &inner); err != nil {
			lastErr = err
			continue
		}
		if !contains(inner.Participants, localFingerprint) {
			continue
		}
		return &inner, nil
	}
	if lastErr == nil {
		lastErr = errs.Crypto("no symm_keys slot addressed to this recipient", nil)
	}
	return nil, errs.Crypto("failed to decrypt chat for this recipient", lastErr)
}

func uniqueSortedServers(recipients []Recipient) []string {
	seen := make(map[string]struct{}, len(recipients))
	var out []string
	for _, r := range recipients {
		if _, ok := seen[r.HomeServer]; !ok {
			seen[r.HomeServer] = struct{}{}
			out = append(out, r.HomeServer)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
