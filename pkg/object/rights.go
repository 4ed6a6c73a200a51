package object

import "strings"

// Rights is the permission bitmask recorded on a handle when it is created.
// Each right is a bit flag; rights combine with bitwise OR.
type Rights uint32

const (
	// RightDuplicate allows the handle to be duplicated.
	RightDuplicate Rights = 1 << iota
	// RightTransfer allows the handle to be sent to another process.
	RightTransfer
	// RightRead allows reading state, including waiting on interrupts.
	RightRead
	// RightWrite allows mutating state, including bind, unbind and signal.
	RightWrite
	// RightExecute allows mapping memory as executable.
	RightExecute
	// RightMap allows mapping a VM object or handing it to a device.
	RightMap
	// RightInspect allows querying object properties.
	RightInspect

	// RightNone is the empty set.
	RightNone Rights = 0
	// DefaultRights is what a newly created object grants its creator.
	DefaultRights = RightDuplicate | RightTransfer | RightRead | RightWrite | RightInspect
)

var rightNames = []struct {
	right Rights
	name  string
}{
	{RightDuplicate, "duplicate"},
	{RightTransfer, "transfer"},
	{RightRead, "read"},
	{RightWrite, "write"},
	{RightExecute, "execute"},
	{RightMap, "map"},
	{RightInspect, "inspect"},
}

// Has returns true if every right in want is present.
func (r Rights) Has(want Rights) bool {
	return r&want == want
}

// String returns a comma-separated list of right names.
func (r Rights) String() string {
	if r == RightNone {
		return "none"
	}
	var names []string
	for _, rn := range rightNames {
		if r&rn.right != 0 {
			names = append(names, rn.name)
		}
	}
	return strings.Join(names, ",")
}
