package torchnet

import (
	"log"
	"strings"

	"github.com/klauspost/cpuid/v2"
	torch "github.com/wangkuiyi/gotorch"
)

// Select the GPU if requested and available, else the CPU. Returns the device and its name.
func SelectDevice(useGPU bool) (torch.Device, string) {
	if useGPU && torch.IsCUDAAvailable() {
		log.Println("using CUDA device")
		return torch.NewDevice("cuda"), "cuda"
	}
	if useGPU {
		log.Println("CUDA not available: using CPU")
	}
	log.Printf("using CPU %s: %d cores, features %s", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, CPUFeatures())
	return torch.NewDevice("cpu"), "cpu"
}

// List vector extensions supported by the CPU
func CPUFeatures() string {
	var feats []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			feats = append(feats, f.String())
		}
	}
	if len(feats) == 0 {
		return "none"
	}
	return strings.Join(feats, " ")
}
