package engines

import "testing"

func TestCudaToolkitFor(t *testing.T) {
	const asset12 = "cortex.llamacpp-0.1.40-linux-amd64-avx2-cuda-12-0.tar.gz"
	const asset11 = "cortex.llamacpp-0.1.40-linux-amd64-avx2-cuda-11-7.tar.gz"
	cases := []struct {
		engine, asset, os, driver, want string
	}{
		{EngineLlamaCpp, asset12, "linux", "535.104.05", "12.0"},
		{EngineLlamaCpp, asset12, "linux", "520.1", ""},
		{EngineLlamaCpp, asset11, "linux", "460.0", "11.7"},
		{EngineLlamaCpp, asset11, "linux", "440.0", ""},
		{EngineLlamaCpp, asset12, "windows", "526.0", ""},
		{EngineLlamaCpp, asset12, "windows", "527.0", "12.0"},
		{EngineLlamaCpp, "cortex.llamacpp-0.1.40-linux-amd64-avx2.tar.gz", "linux", "535.0", ""},
		{EngineLlamaCpp, asset12, "linux", "", ""},
		{EngineTensorrtLLM, "cortex.tensorrt-llm-0.0.9-linux-cuda-12-4.tar.gz", "linux", "550.0", ""},
		{EngineTensorrtLLM, "cortex.tensorrt-llm-0.0.9-linux-cuda-12-4.tar.gz", "linux", "555.1", "12.4"},
	}
	for _, tc := range cases {
		if got := cudaToolkitFor(tc.engine, tc.asset, tc.os, tc.driver); got != tc.want {
			t.Errorf("cudaToolkitFor(%s, %s, %s, %s) = %q, want %q", tc.engine, tc.asset, tc.os, tc.driver, got, tc.want)
		}
	}
}
