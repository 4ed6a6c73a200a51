/*
Package process provides processes and threads as seen by kernel object
syscalls.

A Process owns an object.HandleTable and an AddressSpace. A Thread belongs to
one process and carries its own IO permission bitmap. Syscalls receive the
calling *Thread explicitly and resolve handles through its process's table.

# Process States

  - Ready: created, no thread has run yet
  - Running: at least one thread exists
  - Zombie: exited; the handle table has been closed

# Usage

	pm := process.NewProcessManager()
	p, err := pm.CreateProcess(&process.CreateConfig{Name: "driver"})
	if err != nil {
		// Handle error
	}
	th, err := pm.CreateThread(p)

	// Exiting closes every handle the process held.
	err = pm.Exit(p.PID, 0)
*/
package process
