// Package revstore persists what a map sync source remembers between
// sessions: one revision record per merged item plus the whole-database
// revision token.
//
// Storage
//
// Records live in a Node, a flat key/value unit with buffered writes:
//
//	FileNode  "key=value" lines in a file on a billy filesystem
//	SQLNode   rows of tracking_properties in DuckDB or SQLite
//	MemNode   process memory, for dry runs and tests
//
// The key is the MainID; the value is the record written by a RecordCodec.
// SlashCodec produces "/revision/uid/subid.../" with percent escaping and is
// the default. MsgPackCodec produces Base64 msgpack.
//
// Error Handling
//
// A record that cannot be decoded is not fatal. Store.Load logs and skips
// it, and the item is treated as never seen before.
package revstore
