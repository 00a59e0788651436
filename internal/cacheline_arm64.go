// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build arm64

package internal

// CacheLineSize is the L1 cache line size for ARM64 architectures.
// Most ARM Cortex-A series use 64-byte L1 cache lines. Shared-memory
// structure headers are part of the wire ABI, so unlike a process-local
// pool the padding unit must be identical for every attacher; 64 bytes
// is the value every port of the segment format uses.
const CacheLineSize = 64
