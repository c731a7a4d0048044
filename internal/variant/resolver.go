// Package variant picks the prebuilt engine asset that matches a host.
//
// Matching is substring based on the hyphenated tokens used by release asset
// names, e.g. "llama-b4920-bin-linux-avx2-cuda-cu12.0-x64.tar.gz". The
// tokens are matched with their leading hyphen ("-linux", "-x64", "-avx2"),
// so callers must pass the normalized names returned by NormalizeOS and
// NormalizeArch. An empty result means no asset fits the host; it is not an
// error and the caller decides whether that is fatal.
package variant

import (
	"regexp"
	"strconv"
	"strings"
)

// Normalized operating system names.
const (
	OSMac     = "mac"
	OSWindows = "windows"
	OSLinux   = "linux"
)

// Normalized architecture names.
const (
	ArchX64   = "x64"
	ArchArm64 = "arm64"
)

// AVX levels, in decreasing priority.
const (
	AVX512 = "avx512"
	AVX2   = "avx2"
	AVX    = "avx"
	NoAVX  = "noavx"
)

var cudaToken = regexp.MustCompile(`cuda-(?:cu)?(\d+)[.-](\d+)`)

// CPUFlags reports which AVX instruction sets the host supports.
type CPUFlags struct {
	AVX    bool
	AVX2   bool
	AVX512 bool
}

// NormalizeOS maps a GOOS value to the name used in asset names.
func NormalizeOS(goos string) string {
	switch goos {
	case "darwin", OSMac:
		return OSMac
	case OSWindows:
		return OSWindows
	case OSLinux:
		return OSLinux
	default:
		return goos
	}
}

// NormalizeArch maps a GOARCH value to the name used in asset names.
func NormalizeArch(goarch string) string {
	switch goarch {
	case "amd64", ArchX64:
		return ArchX64
	case "arm64", "aarch64":
		return ArchArm64
	default:
		return goarch
	}
}

func supportedOS(os string) bool {
	return os == OSMac || os == OSWindows || os == OSLinux
}

// GetSuitableAvxVariant returns the best AVX token for flags:
// avx512 > avx2 > avx > noavx.
func GetSuitableAvxVariant(flags CPUFlags) string {
	switch {
	case flags.AVX512:
		return AVX512
	case flags.AVX2:
		return AVX2
	case flags.AVX:
		return AVX
	default:
		return NoAVX
	}
}

// Validate returns the asset in variants that best matches the host, or "".
func Validate(variants []string, os, arch, avx, cudaVersion string) string {
	if !supportedOS(os) {
		return ""
	}
	compatible := filter(variants, func(v string) bool {
		return strings.Contains(v, "-"+os) && strings.Contains(v, "-"+arch)
	})
	if len(compatible) == 0 {
		return ""
	}
	// No AVX or CUDA axis on these platforms.
	if os == OSMac || (os == OSLinux && arch == ArchArm64) {
		return compatible[0]
	}
	withAvx := filter(compatible, func(v string) bool {
		return strings.Contains(v, "-"+avx)
	})
	return GetSuitableCudaVariant(withAvx, cudaVersion)
}

// ValidateOnnx resolves an onnxruntime asset: os and arch only.
func ValidateOnnx(variants []string, os, arch string) string {
	if !supportedOS(os) {
		return ""
	}
	for _, v := range variants {
		if strings.Contains(v, "-"+os) && strings.Contains(v, "-"+arch) {
			return v
		}
	}
	return ""
}

// ValidateTensorrtLlm resolves a tensorrt-llm asset: os and CUDA only.
func ValidateTensorrtLlm(variants []string, os, cudaVersion string) string {
	if !supportedOS(os) {
		return ""
	}
	compatible := filter(variants, func(v string) bool {
		return strings.Contains(v, "-"+os)
	})
	return GetSuitableCudaVariant(compatible, cudaVersion)
}

// GetSuitableCudaVariant picks, among variants built for the requested CUDA
// major version, the one with the highest minor version not above the
// requested minor. When none qualifies it falls back to the first variant
// built without CUDA.
func GetSuitableCudaVariant(variants []string, cudaVersion string) string {
	reqMajor, reqMinor, ok := parseVersion(cudaVersion)
	best, bestMinor := "", -1
	if ok {
		for _, v := range variants {
			m := cudaToken.FindStringSubmatch(v)
			if m == nil {
				continue
			}
			major, _ := strconv.Atoi(m[1])
			minor, _ := strconv.Atoi(m[2])
			if major == reqMajor && minor <= reqMinor && minor > bestMinor {
				best, bestMinor = v, minor
			}
		}
	}
	if best != "" {
		return best
	}
	for _, v := range variants {
		if !strings.Contains(v, "cuda") {
			return v
		}
	}
	return ""
}

// CudaVersionOf returns the "MAJOR.MINOR" CUDA version an asset was built
// against, or "" when the name carries no CUDA token.
func CudaVersionOf(name string) string {
	m := cudaToken.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2]
}

// parseVersion reads "MAJOR.MINOR" (extra components ignored).
func parseVersion(v string) (major, minor int, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(v, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, false
		}
	}
	return major, minor, true
}

func filter(in []string, keep func(string) bool) []string {
	var out []string
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
