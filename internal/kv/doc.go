// Package kv is the key-value storage layer under the command, data and
// history tables.
//
// Every table is keyed by a partition key (pk) and a sort key (sk). A
// Backend talks to the physical store (DynamoDB, or a SQL database for
// local runs); the Adapter wraps a Backend and adds the behavior every
// caller relies on:
//
//   - attributes larger than the configured limit are written to object
//     storage and replaced by an s3:// URI, then inlined again on read
//   - updates always stamp updatedAt unless the caller sets it
//
// Update operations are described with Ops and compiled to a DynamoDB
// update expression by Compile, or evaluated in process by Apply.
package kv
