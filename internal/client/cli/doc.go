// Package cli provides the interactive coachkeeper command-line client.
//
// It wires configuration, the local database, the storage manager, the
// connectivity monitor and the sync coordinator, and runs an interactive
// REPL over them. Writes made while offline are queued and go out in the
// background once the server is reachable.
//
// Key features:
//   - Players, seasons and games: list and add
//   - Settings and language
//   - Sync now, status, and the list of writes that need attention
//   - Export / import of JSON snapshots, S3 backups
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
