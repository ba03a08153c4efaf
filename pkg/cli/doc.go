// Package cli provides the ledger command-line interface for inspecting and
// maintaining an audit trail.
//
// # Commands
//
// query: Print audit records or events matching a filter
//
//	ledger query -item-id 42 -operation Edited
//	ledger query -kind events -user-id admin -since 2024-01-01T00:00:00Z -format csv
//
// export: Write the same selection to a file, atomically
//
//	ledger export -out trail.json -item-type AUser
//
// censor: Redact recorded values of an item's fields
//
//	ledger censor -item-id 42 -fields email,password
//
// prune: Remove rotated files past the retention period, archiving them to
// S3 first when configured. With -daemon it keeps running on the retention
// schedule until interrupted.
//
//	ledger prune
//	ledger prune -daemon
//
// demo: Drive a sample user through add, edit, delete, restore and remove,
// then print the resulting trail
//
//	ledger demo -id demo-user
//
// # Configuration
//
// Every command accepts -config pointing at a YAML file. LEDGER_* environment
// variables override the file; see package config.
//
// # Exit codes
//
// ExitCode maps errors to statuses: 2 for bad arguments, 3 for configuration
// errors, 4 when the sink cannot serve the request, 5 for missing items and 1
// otherwise.
package cli
