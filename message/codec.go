package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/c360/chatsession/errors"
)

// Codec converts envelopes to and from transport message bodies.
type Codec interface {
	Name() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// CodecByName returns the codec registered under name ("json" or "proto").
// An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "proto", "protobuf":
		return ProtoCodec{}, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown codec %q", errors.ErrInvalidConfig, name),
			"message", "CodecByName", "select codec")
	}
}

// JSONCodec encodes envelopes as {"Type":"NAME","Sender":...,"Tag":...,"Values":{...}}.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Encode marshals env.
func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode unmarshals data into a new envelope.
func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"JSONCodec", "Decode", "unmarshal envelope")
	}
	if !env.Type.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: envelope has no type", errors.ErrInvalidData),
			"JSONCodec", "Decode", "check envelope type")
	}
	return &env, nil
}

// ProtoCodec encodes envelopes as a protobuf Struct. Values are normalized to
// JSON types, and their order travels in an "Order" list.
type ProtoCodec struct{}

// Name returns "proto".
func (ProtoCodec) Name() string { return "proto" }

// Encode marshals env into protobuf wire format.
func (ProtoCodec) Encode(env *Envelope) ([]byte, error) {
	raw, err := json.Marshal(env.Values)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ProtoCodec", "Encode", "normalize values")
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.WrapInvalid(err, "ProtoCodec", "Encode", "normalize values")
	}

	keys := env.Values.Keys()
	order := make([]any, len(keys))
	for i, k := range keys {
		order[i] = k
	}

	st, err := structpb.NewStruct(map[string]any{
		"Type":   env.Type.String(),
		"Sender": env.Sender,
		"Tag":    env.Tag,
		"Values": values,
		"Order":  order,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "ProtoCodec", "Encode", "build struct")
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ProtoCodec", "Encode", "marshal struct")
	}
	return data, nil
}

// Decode unmarshals protobuf wire format into a new envelope.
func (ProtoCodec) Decode(data []byte) (*Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"ProtoCodec", "Decode", "unmarshal struct")
	}

	fields := st.AsMap()
	typeName, _ := fields["Type"].(string)
	t, err := ParseType(typeName)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Type: t}
	env.Sender, _ = fields["Sender"].(string)
	env.Tag, _ = fields["Tag"].(string)

	values, _ := fields["Values"].(map[string]any)
	order, _ := fields["Order"].([]any)
	for _, k := range order {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if v, ok := values[key]; ok {
			env.Values.Set(key, v)
		}
	}
	// keys missing from Order still arrive, after the ordered ones
	for key, v := range values {
		if !env.Values.Has(key) {
			env.Values.Set(key, v)
		}
	}
	return env, nil
}
