package platform

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"ddk/pkg/pmm"
)

// Config is the boot configuration of a simulated machine.
type Config struct {
	Boot BootInfo
	// RamBase and RamPages describe the physical memory managed by the
	// page allocator.
	RamBase  pmm.Paddr
	RamPages int
	// Trace enables per-call syscall tracing.
	Trace bool
}

// DefaultConfig returns a machine with 16 MiB of RAM at 1 MiB, no boot
// framebuffer and no ACPI pointer, on the host architecture.
func DefaultConfig() Config {
	return Config{
		Boot:     BootInfo{Arch: Arch(runtime.GOARCH)},
		RamBase:  0x100000,
		RamPages: 4096,
	}
}

// LoadConfig reads DefaultConfig overridden by DDK_* environment variables.
// A framebuffer is configured when DDK_FB_BASE is set.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := getenv("DDK_ARCH"); v != "" {
		cfg.Boot.Arch = Arch(v)
	}
	if err := parseUint(getenv, "DDK_RAM_BASE", func(n uint64) { cfg.RamBase = pmm.Paddr(n) }); err != nil {
		return cfg, err
	}
	if err := parseUint(getenv, "DDK_RAM_PAGES", func(n uint64) { cfg.RamPages = int(n) }); err != nil {
		return cfg, err
	}
	if err := parseUint(getenv, "DDK_ACPI_RSDP", func(n uint64) { cfg.Boot.AcpiRsdp = n }); err != nil {
		return cfg, err
	}

	if getenv("DDK_FB_BASE") != "" {
		fb := &FramebufferInfo{}
		fields := []struct {
			key string
			set func(uint64)
		}{
			{"DDK_FB_BASE", func(n uint64) { fb.Base = pmm.Paddr(n) }},
			{"DDK_FB_FORMAT", func(n uint64) { fb.Format = uint32(n) }},
			{"DDK_FB_WIDTH", func(n uint64) { fb.Width = uint32(n) }},
			{"DDK_FB_HEIGHT", func(n uint64) { fb.Height = uint32(n) }},
			{"DDK_FB_STRIDE", func(n uint64) { fb.Stride = uint32(n) }},
		}
		for _, f := range fields {
			if err := parseUint(getenv, f.key, f.set); err != nil {
				return cfg, err
			}
		}
		cfg.Boot.Framebuffer = fb
	}

	if v := getenv("DDK_TRACE"); v != "" {
		trace, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("DDK_TRACE: %w", err)
		}
		cfg.Trace = trace
	}
	return cfg, nil
}

// parseUint parses key as decimal or 0x-prefixed hex and calls set if present.
func parseUint(getenv func(string) string, key string, set func(uint64)) error {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	set(n)
	return nil
}
