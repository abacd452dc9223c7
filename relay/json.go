package relay

import (
	"encoding/json"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/wire"
)

func unmarshalEnvelope(env *wire.Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errs.Envelope("failed to decode inner payload", err)
	}
	return nil
}

func marshalUnsigned(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Envelope("failed to marshal unsigned frame", err)
	}
	return b, nil
}
