// Package client holds the client's connections to the outside world.
//
// GRPCClient is the remote store adapter: it implements
// backend.RemoteAdapter over the RecordService gRPC contract, attaches the
// access token of the current identity to every call, bounds each call with
// a timeout and maps gRPC status codes onto the sentinels of package common
// (network, auth, conflict, validation, not found).
//
// InitDatabase and RunMigrations bootstrap the local SQLite database that
// backs the durable record store, the sync queue and the metadata table.
package client
