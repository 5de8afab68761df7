// Package file provides a session.Sink that appends publications to a file.
//
// Records are written as {"key","value","time"} objects, one per line in
// jsonl format or indented in json format. Writes are buffered and flushed
// when the buffer fills, on a timer, and on Close.
package file
