// Package resource defines lockable resource names and the ordered name sets
// used to describe what an operation reads or writes. A set can also stand
// for every resource, including ones that do not exist yet.
package resource
