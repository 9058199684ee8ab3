// Package harness runs YAML scenarios against an in-process deployment:
// SQLite tables, an in-memory blob store, a recording notifier and the
// local workflow runner.
//
// # Scenario Format
//
//	name: out_of_order
//	description: "Later version delivered first"
//	manifest: |
//	  app: "shop"
//	  modules: order: {}
//	steps:
//	  - action: publish
//	    module: order
//	    input: {pk: "ORDER#acme", sk: "ORD1", code: "ORD1", version: 0, attributes: {qty: 1}}
//	  - action: deliver
//	    reverse: true
//	  - action: redrive
//	assertions:
//	  - type: item
//	    module: order
//	    pk: "ORDER#acme"
//	    sk: "ORD1"
//	    expect: {version: 2}
//	  - type: notifications
//	    action: sfn-alarm
//	    count: 1
//
// Writes only reach the workflow on a deliver step, which hands every
// pending stream record to the runner, optionally newest first, and runs
// it until idle. That is how arrival order is scripted.
//
// # Steps
//
//   - publish, partial, sync: write a command (full, merged, or projected
//     directly)
//   - duplicate: write the stored command at input pk/sk as a new version
//   - seed: write a data projection directly
//   - deliver, redrive: drive the workflow
//   - resync: replay projections through the module's extra handlers
//
// # Assertions
//
//   - item: a command, data or history record is a superset of expect
//   - latest: the latest command version matches expect
//   - executions: count of executions, optionally with one status
//   - notifications: count of notifications, optionally of one action
//
// Traces are canonical JSON and compared against golden files.
package harness
