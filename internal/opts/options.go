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

type Options struct {
	MaxLivenessIterations int
	MaxSpillSlots         int
	MaxVirtualRegs        int
	Workers               int
	Verify                bool
	MergeBlocks           bool
}

// CanSpill reports whether a frame with n spill slots is still acceptable.
func (self *Options) CanSpill(n int) bool {
	return self.MaxSpillSlots == 0 || n <= self.MaxSpillSlots
}

// CanNumber reports whether virtual register n is still inside the numbering space.
func (self *Options) CanNumber(n int) bool {
	return self.MaxVirtualRegs == 0 || n < self.MaxVirtualRegs
}

func GetDefaultOptions() Options {
	return Options{
		MaxLivenessIterations: MaxLivenessIterations,
		MaxSpillSlots:         MaxSpillSlots,
		MaxVirtualRegs:        MaxVirtualRegs,
		Workers:               Workers,
		Verify:                !NoVerify,
		MergeBlocks:           !NoMergeBlocks,
	}
}
