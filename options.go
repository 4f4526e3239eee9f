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

package lsra

import (
	"fmt"

	"github.com/cloudwego/lsra/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

const (
	_MinVirtualRegs = 16
)

// WithMaxLivenessIterations sets the maximum number of rounds of the
// liveness fixpoint before the allocator gives up.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "50".
func WithMaxLivenessIterations(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("lsra: invalid liveness iteration limit: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxLivenessIterations = n }
	}
}

// WithMaxSpillSlots sets the maximum number of spill slots of a frame.
// Functions needing more slots fail with an AllocationExhaustedError.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "2000".
func WithMaxSpillSlots(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("lsra: invalid spill slot limit: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxSpillSlots = n }
	}
}

// WithMaxVirtualRegs sets the size of the virtual register numbering space,
// which split children and temporary intervals draw from.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "1048576".
func WithMaxVirtualRegs(n int) Option {
	if n != 0 && n < _MinVirtualRegs {
		panic(fmt.Sprintf("lsra: invalid virtual register limit: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxVirtualRegs = n }
	}
}

// WithWorkers sets the number of functions AllocateAll processes in parallel.
//
// The default value of this option is GOMAXPROCS.
func WithWorkers(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("lsra: invalid worker count: %d", n))
	} else {
		return func(o *opts.Options) { o.Workers = n }
	}
}

// WithVerify enables or disables the verification of every allocation
// result. A failed verification is reported as an InternalConsistencyError.
//
// This value can also be disabled with the `LSRA_NO_VERIFY` environment
// variable.
func WithVerify(v bool) Option {
	return func(o *opts.Options) { o.Verify = v }
}

// WithMergeBlocks controls whether the blocks left with a single jump after
// allocation are merged into their successors.
//
// This value can also be disabled with the `LSRA_NO_MERGE_BLOCKS`
// environment variable.
func WithMergeBlocks(v bool) Option {
	return func(o *opts.Options) { o.MergeBlocks = v }
}

// SetMaxSpillSlots sets the default maximum number of spill slots for all
// functions from now on.
//
// This value can also be configured with the `LSRA_MAX_SPILL_SLOTS`
// environment variable.
//
// Returns the old opts.MaxSpillSlots value.
func SetMaxSpillSlots(n int) int {
	n, opts.MaxSpillSlots = opts.MaxSpillSlots, n
	return n
}

// SetMaxVirtualRegs sets the default size of the virtual register numbering
// space for all functions from now on.
//
// This value can also be configured with the `LSRA_MAX_VIRTUAL_REGS`
// environment variable.
//
// Returns the old opts.MaxVirtualRegs value.
func SetMaxVirtualRegs(n int) int {
	n, opts.MaxVirtualRegs = opts.MaxVirtualRegs, n
	return n
}
