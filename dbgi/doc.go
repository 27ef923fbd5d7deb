// Package dbgi is the debug-information cache and conversion scheduler of a
// native debugger.
//
// A module path and a "not older than" timestamp map to a stable Key
// (KeyFromPath). Open registers interest in a key and queues a load; a host
// loop calls Tick, which converts PDB/DWARF sources out of process when the
// converted file is missing or stale, then parses and commits the result on
// every lane. Lookup serves the parsed table concurrently, optionally waiting
// for the load.
//
// Design
//
//   - Concurrency: three chained hash tables (path→key, key→path,
//     key→record) share the stripe set primitive: many slots map onto a few
//     RWMutex stripes. Readers in different stripes never contend.
//
//   - Lifetime: records are refcounted via Open/Close. Lookup registers an
//     access touch on an Access scope; Close never unlinks a record while a
//     touch is outstanding and instead waits for the scope to close.
//
//   - Scheduling: requests are queued in two priority batches. Lane 0 of a
//     Tick deduplicates them into load tasks (at most one per key), checks
//     staleness, budgets converter threads against ThreadBudget, launches
//     and joins converters, and publishes the ready list; every lane then
//     claims ready files and parses them.
//
//   - Completion: converters signal their token over a notify.Channel; a
//     receiver goroutine wakes the scheduler so exits need not be polled.
//
// Errors never reach Open/Close/Lookup callers: a failed conversion or
// parse commits rdi.Nil, indistinguishable from "not loaded yet".
package dbgi
