/*
Package interrupt implements interrupt objects.

An interrupt object multiplexes up to MaxSlots hardware vectors onto one
waitable kernel object. Each slot moves through a small state machine:

	idle --Bind--> bound --signal--> signaled --Wait--> bound --Unbind--> idle

Hardware fires arrive through a Controller handler; UserSignal injects the
same signal with a caller-supplied timestamp. Both go through one internal
signal path, so tests drive real semantics with a SoftController.

A blocked wait ends in one of three ways: a slot in its mask is signaled
(the wait consumes it), a slot in its mask is unbound (ErrUnbound), or the
last handle to the object is closed (ErrDestroyed). Both cancellations wrap
status.ErrCanceled.
*/
package interrupt
