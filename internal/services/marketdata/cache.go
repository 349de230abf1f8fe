package marketdata

import (
	"encoding/json"

	"github.com/kdalton/tradesim/internal/common"
)

// cacheEnvelope wraps every hot-cache payload with the schema version that
// wrote it. A version mismatch on read is treated as a miss, so a deploy
// that changes the cached shape re-fetches instead of decoding garbage.
type cacheEnvelope struct {
	DataVersion string          `json:"data_version"`
	Data        json.RawMessage `json:"data"`
}

func encodeCached(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cacheEnvelope{DataVersion: common.SchemaVersion, Data: data})
}

// decodeCached unwraps an envelope into out, reporting false for a version
// mismatch or malformed payload.
func decodeCached(raw []byte, out any) bool {
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	if env.DataVersion != common.SchemaVersion {
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}
