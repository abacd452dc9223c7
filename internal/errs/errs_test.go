package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("BasicError", func(t *testing.T) {
		err := Crypto("signature verification failed", nil)

		assert.Equal(t, KindCrypto, err.Kind)
		assert.Equal(t, "signature verification failed", err.Message)
		assert.Equal(t, "CRYPTO_ERROR: signature verification failed", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("ErrorWithCause", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := Peer("neighbour unreachable", cause)

		assert.Equal(t, cause, err.Unwrap())
		assert.Contains(t, err.Error(), "dial tcp: connection refused")
	})

	t.Run("ErrorWithDetail", func(t *testing.T) {
		err := Envelope("counter did not increase", nil).
			WithDetail("fingerprint", "abc123").
			WithDetail("counter", 4)

		assert.Equal(t, "abc123", err.Details["fingerprint"])
		assert.Equal(t, 4, err.Details["counter"])
	})

	t.Run("AllKindsDefined", func(t *testing.T) {
		assert.NotEmpty(t, KindConfig)
		assert.NotEmpty(t, KindCrypto)
		assert.NotEmpty(t, KindEnvelope)
		assert.NotEmpty(t, KindRoute)
		assert.NotEmpty(t, KindPeer)
		assert.NotEmpty(t, KindTransport)
		assert.NotEmpty(t, KindStorage)
	})

	t.Run("Is", func(t *testing.T) {
		err := Storage("write failed", nil)
		assert.True(t, Is(err, KindStorage))
		assert.False(t, Is(err, KindCrypto))
		assert.False(t, Is(errors.New("plain"), KindStorage))
	})

	t.Run("ErrorsAsCompatible", func(t *testing.T) {
		var target *Error
		wrapped := errors.New("wrapped")
		err := Route("unknown destination server", wrapped)
		assert.True(t, errors.As(error(err), &target))
		assert.Equal(t, KindRoute, target.Kind)
		assert.True(t, errors.Is(err, wrapped))
	})
}
