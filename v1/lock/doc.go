// Package lock coordinates concurrent operations over named resources.
//
// A Manager grants a whole request at once: every resource the request reads
// or writes is checked against the entire table of granted locks in a single
// step, and only a fully compatible request is recorded. A waiting request
// holds nothing, so no set of waiters can form a cycle and the manager cannot
// deadlock, whatever order callers name their resources in.
//
// Besides resource conflicts the manager caps how many requests may be
// granted at the same time (see WithParallel). Grant and release events can
// be announced on a syncbus.Bus for tooling that watches resource activity.
package lock
