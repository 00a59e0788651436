// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import "code.hybscloud.com/zeroipc/internal"

// CacheLineSize is the CPU L1 cache line size for the current architecture.
// Structure headers are placed on cache-line boundaries so the atomics of
// distinct structures never share a line.
const CacheLineSize = internal.CacheLineSize

// noCopy is a sentinel used to prevent copying of handle types.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
