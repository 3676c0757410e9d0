// Package gdelt ingests the GDELT event dataset. The dataset is published as
// timestamped archive files every fifteen minutes (or daily for older and
// inventory-indexed kinds) and, as a fallback, through a columnar warehouse.
//
// A request is a Filter: a DateRange plus optional predicates. It moves through
// a fixed set of stages:
//
//  1. The Resolver turns a DateRange and a Kind into a list of Targets, the
//     remote archive URLs which cover the range. Templated kinds are computed
//     from the kind's publication interval, inventory kinds read a remote
//     master file list.
//  2. The download package fetches Targets concurrently with a bounded
//     number of requests in flight and yields decompressed artifacts in the
//     order they complete. A failing URL is counted and dropped, never fatal.
//  3. The parse package detects the schema version of each artifact from its
//     first line and maps every line onto a RawRecord. Bad lines are reported
//     as MalformedRecordError and parsing continues.
//  4. Overlapping feeds publish the same event more than once. A Strategy
//     derives a key from each record and NewDedupSource drops repeats while
//     keeping order.
//
// The fetch package ties the stages together behind a Fetcher which switches
// to a secondary query backend when the archive source is rate limited or
// unavailable, and applies a FailurePolicy to per-record and per-artifact
// errors. The http package serves the same streams over HTTP and cmd/gdelt
// is the command line front end.
package gdelt
