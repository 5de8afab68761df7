// Package message defines the Envelope exchanged between a session and its
// peer, and the conversions between envelopes, typed values and wire bytes.
//
// An Envelope carries a Type, the Sender identity, a correlation Tag of the
// form "MS:<unix-ms>" and an ordered set of named Values. Tags are assigned by
// the sender just before transmission; two envelopes tagged in the same
// millisecond share a tag.
//
// Reserved fields (Command, Arguments, ServiceEvent, Message) are read through
// explicit helpers such as CommandOf, ServiceEventOf and StatusFromEnvelope.
// Payloads that are converted to typed structures are first checked against a
// JSON schema for their envelope type.
//
// Two codecs are provided. JSONCodec is the default wire format; ProtoCodec
// carries the same envelope as a protobuf Struct for binary transports.
// Decoded numbers are float64, objects map[string]any and lists []any.
package message
