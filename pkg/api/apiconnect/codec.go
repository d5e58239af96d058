// Package apiconnect wires the duoledger.v1 services onto Connect handlers
// and clients.
package apiconnect

import (
	"bytes"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// jsonCodec encodes the plain Go messages of package api. It replaces
// Connect's protobuf JSON codec under the same name, so the wire format is
// ordinary application/json.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("decode %T: %w", msg, err)
	}
	return nil
}

// withCodec is prepended to caller options so the services speak JSON.
func withCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
