package engines

import (
	"strconv"
	"strings"

	"llmd/internal/variant"
)

const defaultCudaToolkitURL = "https://catalog.jan.ai/dist/cuda-dependencies/%s/%s/cuda.tar.gz"

// minDriver is the lowest NVIDIA driver major version able to run a CUDA
// toolkit major version, per OS.
var minDriver = map[string]map[int]int{
	variant.OSLinux:   {11: 450, 12: 525},
	variant.OSWindows: {11: 452, 12: 527},
}

// tensorrtMinDriver is required by the tensorrt-llm runtime regardless of OS.
const tensorrtMinDriver = 555

// cudaToolkitFor returns the toolkit version to install next to an engine
// built from asset, or "" when the host driver cannot run it or the asset
// needs no toolkit.
func cudaToolkitFor(engine, asset, osName, driverVersion string) string {
	toolkit := variant.CudaVersionOf(asset)
	if toolkit == "" || driverVersion == "" {
		return ""
	}
	driver, err := strconv.Atoi(strings.SplitN(driverVersion, ".", 2)[0])
	if err != nil {
		return ""
	}
	if engine == EngineTensorrtLLM {
		if driver < tensorrtMinDriver {
			return ""
		}
		return toolkit
	}
	major, err := strconv.Atoi(strings.SplitN(toolkit, ".", 2)[0])
	if err != nil {
		return ""
	}
	need, ok := minDriver[osName][major]
	if !ok || driver < need {
		return ""
	}
	return toolkit
}
