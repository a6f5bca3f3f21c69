package kernel

import "golang.org/x/sys/cpu"

// CPUFeatures holds detected CPU capabilities, checked once at init.
type CPUFeatures struct {
	HasAVX2   bool
	HasAVX512 bool
}

var cpuFeat CPUFeatures

func init() {
	cpuFeat.HasAVX2 = cpu.X86.HasAVX2
	cpuFeat.HasAVX512 = cpu.X86.HasAVX512F
}

// Features reports the capabilities detected at process start.
func Features() CPUFeatures {
	return cpuFeat
}
