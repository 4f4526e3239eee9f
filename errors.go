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
    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/errors`
)

// MalformedInputError occures when the input function is not well-formed.
type MalformedInputError = ir.MalformedInputError

// AllocationExhaustedError occures when the allocator runs out of registers,
// stack slots or virtual register numbers.
type AllocationExhaustedError = ir.AllocationExhaustedError

// InternalConsistencyError occures when the allocator breaks one of its own invariants.
type InternalConsistencyError = ir.InternalConsistencyError

// IsBailout reports whether the error means the function could not be
// allocated, and the caller should fall back to a simpler code generator.
func IsBailout(err error) bool {
    var e1 MalformedInputError
    var e2 AllocationExhaustedError
    var e3 InternalConsistencyError
    return errors.As(err, &e1) || errors.As(err, &e2) || errors.As(err, &e3)
}
