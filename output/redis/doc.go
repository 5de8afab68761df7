// Package redis provides a session.Sink backed by Redis.
//
// Each publication is stored as JSON under the configured key prefix with a
// TTL, so the latest status, error and feature values of a session can be read
// by other processes, and is announced on a pub/sub channel as a
// {key, value, time} record.
package redis
