// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package zeroipc_test

// raceEnabled is true when the race detector is active.
//
// The slot hand-off of Queue and Stack, and the slot claim of Map,
// publish element bytes after the reserving atomic rather than through a
// per-element synchronization word; the race detector reports those
// accesses, so the contended tests of those three are skipped in race
// mode.
const raceEnabled = true
