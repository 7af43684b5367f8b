package server

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec implements connect.Codec over plain encoding/json. It is
// registered under the name "json" on both client and server, replacing
// ConnectRPC's built-in protojson-based codec of the same name since none
// of this service's messages implement proto.Message.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Codec returns the connect.Codec this service's handlers and clients use
// in place of ConnectRPC's built-in protojson-based "json" codec, since
// none of the request/response types here implement proto.Message.
func Codec() connect.Codec {
	return jsonCodec{}
}
