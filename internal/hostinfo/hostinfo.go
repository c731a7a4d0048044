// Package hostinfo detects the host properties used to pick engine variants.
package hostinfo

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"

	"llmd/internal/variant"
)

// Info describes the host as seen by the variant resolver.
type Info struct {
	OS                string `json:"os"`
	Arch              string `json:"arch"`
	AVX               string `json:"avx"`
	CudaVersion       string `json:"cuda_version,omitempty"`
	CudaDriverVersion string `json:"cuda_driver_version,omitempty"`
}

// HasCuda reports whether an NVIDIA driver was detected.
func (i Info) HasCuda() bool { return i.CudaDriverVersion != "" }

var (
	driverRe = regexp.MustCompile(`Driver Version:\s*([0-9.]+)`)
	cudaRe   = regexp.MustCompile(`CUDA Version:\s*([0-9.]+)`)
)

// smiRunner runs nvidia-smi and returns its stdout. Replaced in tests.
var smiRunner = func(ctx context.Context) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "nvidia-smi")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Detect probes the running host. A missing nvidia-smi leaves the CUDA
// fields empty.
func Detect(ctx context.Context) Info {
	info := Info{
		OS:   variant.NormalizeOS(runtime.GOOS),
		Arch: variant.NormalizeArch(runtime.GOARCH),
		AVX:  variant.GetSuitableAvxVariant(CPUFlags()),
	}
	if info.OS == variant.OSMac {
		return info
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if out, err := smiRunner(ctx); err == nil {
		info.CudaDriverVersion, info.CudaVersion = parseNvidiaSMI(out)
	}
	return info
}

// CPUFlags reads the AVX feature bits of the current CPU.
func CPUFlags() variant.CPUFlags {
	return variant.CPUFlags{
		AVX:    cpuid.CPU.Supports(cpuid.AVX),
		AVX2:   cpuid.CPU.Supports(cpuid.AVX2),
		AVX512: cpuid.CPU.Supports(cpuid.AVX512F),
	}
}

// parseNvidiaSMI extracts driver and CUDA versions from the nvidia-smi banner.
func parseNvidiaSMI(out string) (driver, cuda string) {
	if m := driverRe.FindStringSubmatch(out); m != nil {
		driver = strings.TrimSpace(m[1])
	}
	if m := cudaRe.FindStringSubmatch(out); m != nil {
		cuda = strings.TrimSpace(m[1])
	}
	return driver, cuda
}
