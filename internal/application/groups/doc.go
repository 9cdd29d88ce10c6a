// Package groups tracks message groups.
//
// Pools are assigned to groups (one per feature group) before any pool runs.
// Each finished pool reports to its group; when the last pool of a group has
// reported, and at least one of them published statistics, the group is
// marked complete on the bus exactly once.
package groups
