// Package httppost provides a session.Sink that posts publications to a
// webhook.
//
// Each publication is sent as a {"key","value","time"} JSON body. Network
// errors, 5xx and 429 answers are retried with backoff; other 4xx answers are
// not. Custom headers and client TLS (including mutual TLS) are configurable.
package httppost
