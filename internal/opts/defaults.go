/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"runtime"

	"github.com/xyproto/env/v2"
)

const (
	_DefaultMaxLivenessIterations = 50      // cutoff at 50 rounds of the liveness fixpoint
	_DefaultMaxSpillSlots         = 2000    // cutoff at 2000 spill slots per frame
	_DefaultMaxVirtualRegs        = 1 << 20 // cutoff at 1M virtual registers, split children included
)

var (
	MaxLivenessIterations = parseOrDefault("LSRA_MAX_LIVENESS_ITERATIONS", _DefaultMaxLivenessIterations, 1)
	MaxSpillSlots         = parseOrDefault("LSRA_MAX_SPILL_SLOTS", _DefaultMaxSpillSlots, 1)
	MaxVirtualRegs        = parseOrDefault("LSRA_MAX_VIRTUAL_REGS", _DefaultMaxVirtualRegs, 16)
	Workers               = parseOrDefault("LSRA_WORKERS", runtime.GOMAXPROCS(0), 1)
	NoVerify              = env.Bool("LSRA_NO_VERIFY")
	NoMergeBlocks         = env.Bool("LSRA_NO_MERGE_BLOCKS")
)

func parseOrDefault(key string, def int, min int) int {
	if !env.Has(key) {
		return def
	} else if ret := env.Int(key, -1); ret < 0 {
		panic("lsra: invalid value for " + key)
	} else if ret < min {
		panic("lsra: value too small for " + key)
	} else {
		return ret
	}
}
