/*
Package display provides the kernel display console interface and a
test-pattern renderer for framebuffers.

# Driver

The kernel hands framebuffers to a Driver either as a physical range
(SetFramebuffer) or as a VM object (SetFramebufferVmo), followed by
SetDisplayInfo describing the pixel layout. A framebuffer VM object stays
alive while the driver points at it, even after its last handle closes.
Udisplay is an in-memory Driver that records the latest configuration.

# Test pattern

RenderTestPattern draws colour bars, a grey ramp and a circle with gg and
writes the result into a contiguous VM object:

	vmo, _ := manager.CreateContiguous(info.Size(), 0)
	if err := display.RenderTestPattern(vmo, info); err != nil {
		return err
	}

Pixels are stored as little-endian XRGB, the layout of FormatRGBx888 and
FormatARGB8888.
*/
package display
