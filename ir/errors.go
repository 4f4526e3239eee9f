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

package ir

import (
    `fmt`

    `tlog.app/go/loc`
)

// MalformedInputError occurs when the input program is not well-formed, for
// example a read with no dominating definition.
type MalformedInputError struct {
    Func   string
    Block  int
    Reason string
}

func (self MalformedInputError) Error() string {
    if self.Block < 0 {
        return fmt.Sprintf("MalformedInput(%s): %s", self.Func, self.Reason)
    } else {
        return fmt.Sprintf("MalformedInput(%s, bb_%d): %s", self.Func, self.Block, self.Reason)
    }
}

// AllocationExhaustedError occurs when no register or stack slot can satisfy
// an interval, or when splitting runs out of virtual register numbers.
type AllocationExhaustedError struct {
    Func     string
    Interval int
    Pos      int
    Reason   string
}

func (self AllocationExhaustedError) Error() string {
    return fmt.Sprintf("AllocationExhausted(%s, i%d at %d): %s", self.Func, self.Interval, self.Pos, self.Reason)
}

// InternalConsistencyError is an invariant violation inside the allocator itself.
type InternalConsistencyError struct {
    Func   string
    Pass   string
    Where  loc.PC
    Reason string
}

func (self InternalConsistencyError) Error() string {
    return fmt.Sprintf("InternalConsistency(%s, %s) at %v: %s", self.Func, self.Pass, self.Where, self.Reason)
}
