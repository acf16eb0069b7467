// Package pool provides fixed-size sets of preallocated buffers.
//
// A Pool owns one contiguous backing array carved into equally sized slots.
// Slots are checked out with Acquire and handed between stages by reference,
// never copied, until the last owner calls Release. The number of slots is
// fixed for the lifetime of the pool; running out is a sizing bug in the
// owning stage and not something to wait for.
package pool
