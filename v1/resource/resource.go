package resource

import (
	"iter"
	"slices"
	"strings"
)

// Reserved names for system-wide resources. Any other name denotes a
// database or a custom resource declared by an extension.
const (
	Context    = "%context"
	Users      = "%users"
	Repository = "%repository"
	Backup     = "%backup"
)

// globalMark is used when rendering a global set.
const globalMark = "*"

// Set is an ordered, duplicate-free collection of resource names plus a
// flag meaning "every resource". Members are kept sorted so that two sets
// built from the same names in different orders are interchangeable.
//
// A Set is a plain value owned by its builder; it is not safe for
// concurrent mutation.
type Set struct {
	names  []string
	global bool
}

// NewSet returns a set containing names.
func NewSet(names ...string) *Set {
	s := &Set{}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name. Adding an existing name is a no-op.
func (s *Set) Add(name string) {
	i, found := slices.BinarySearch(s.names, name)
	if found {
		return
	}
	s.names = slices.Insert(s.names, i, name)
}

// AddGlobal marks the set as standing for every resource.
func (s *Set) AddGlobal() {
	s.global = true
}

// Global reports whether the set stands for every resource.
func (s *Set) Global() bool {
	return s.global
}

// Contains reports whether name is an explicit member.
func (s *Set) Contains(name string) bool {
	_, found := slices.BinarySearch(s.names, name)
	return found
}

// Remove deletes name if present.
func (s *Set) Remove(name string) {
	if i, found := slices.BinarySearch(s.names, name); found {
		s.names = slices.Delete(s.names, i, i+1)
	}
}

// Replace substitutes old with name. It reports whether old was present.
func (s *Set) Replace(old, name string) bool {
	if !s.Contains(old) {
		return false
	}
	s.Remove(old)
	s.Add(name)
	return true
}

// Merge adds all members of other, including its global flag.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, n := range other.names {
		s.Add(n)
	}
	if other.global {
		s.global = true
	}
}

// Len returns the number of explicit members.
func (s *Set) Len() int {
	return len(s.names)
}

// Empty reports whether the set has no members and is not global.
func (s *Set) Empty() bool {
	return !s.global && len(s.names) == 0
}

// Names returns the members in canonical order.
func (s *Set) Names() []string {
	return slices.Clone(s.names)
}

// All iterates over the members in canonical order.
func (s *Set) All() iter.Seq[string] {
	return slices.Values(s.names)
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return &Set{names: slices.Clone(s.names), global: s.global}
}

// Equal reports whether both sets hold the same names and global flag.
func (s *Set) Equal(other *Set) bool {
	if other == nil {
		return s.Empty()
	}
	return s.global == other.global && slices.Equal(s.names, other.names)
}

func (s *Set) String() string {
	parts := s.Names()
	if s.global {
		parts = append(parts, globalMark)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
