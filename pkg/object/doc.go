/*
Package object provides the kernel object model shared by every dispatcher:
type tags, rights, reference counting and the per-process handle table.

A dispatcher starts life with one reference owned by its creator. Handing it
to HandleTable.Add transfers that reference to the table. Lookups take a
transient reference that the caller releases when the operation finishes:

	irq, release, err := object.Lookup[*interrupt.Dispatcher](table, h, object.TypeInterrupt, object.RightWrite)
	if err != nil {
		return err
	}
	defer release()

The dispatcher is destroyed when the last handle is closed and the last
transient reference is released, whichever happens later.

# Thread Safety

HandleTable is safe for concurrent use. Reference counts are atomic.
*/
package object
