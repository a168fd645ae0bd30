package action

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Decode parses a JSON request as sent over the control socket or the hub.
// Unknown kinds decode to NoTool rather than failing.
func Decode(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return &r, nil
}

// Encode is the inverse of Decode.
func Encode(r *Request) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}
