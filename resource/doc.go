// Package resource provides a generic handle table.
//
// Handles are small integers that can cross a boundary where Go values
// cannot, such as a message posted to a worker or a parameter passed into
// WebAssembly. The pool package uses a table to turn a pool builder into
// the receiver handle carried by worker init messages.
//
//	table := resource.NewTable[*Builder]()
//
//	// Insert a value, get a handle
//	handle := table.Insert(b)
//
//	// Retrieve value by handle
//	b, ok := table.Get(handle)
//
//	// Remove releases the handle for reuse
//	b, ok = table.Remove(handle)
//
// Handle 0 is never issued. Removed handles are reused, so a handle must
// not be used after its value has been removed.
//
// Values implementing Dropper are dropped when removed or when the table is
// closed. Observers receive EventCreated and EventDropped notifications.
package resource
