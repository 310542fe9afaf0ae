package rpc

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec encodes the plain Go message types in package proto. It replaces
// connect's protojson codec, which only handles generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

var _ connect.Codec = jsonCodec{}

// withJSON is added to every handler and client in this package.
var withJSON = connect.WithCodec(jsonCodec{})
