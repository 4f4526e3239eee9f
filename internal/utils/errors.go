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

package utils

import (
    `fmt`

    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/loc`
)

func EMalformed(fn *ir.Func, bb *ir.Block, format string, args ...interface{}) ir.MalformedInputError {
    id := -1
    if bb != nil { id = bb.Id }

    /* construct the error */
    return ir.MalformedInputError {
        Func   : fn.Name,
        Block  : id,
        Reason : fmt.Sprintf(format, args...),
    }
}

func EExhausted(fn *ir.Func, interval int, pos int, format string, args ...interface{}) ir.AllocationExhaustedError {
    return ir.AllocationExhaustedError {
        Func     : fn.Name,
        Interval : interval,
        Pos      : pos,
        Reason   : fmt.Sprintf(format, args...),
    }
}

func EInternal(fn *ir.Func, pass string, format string, args ...interface{}) ir.InternalConsistencyError {
    return ir.InternalConsistencyError {
        Func   : fn.Name,
        Pass   : pass,
        Where  : loc.Caller(1),
        Reason : fmt.Sprintf(format, args...),
    }
}
