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

package abi

import (
    `fmt`
    `strings`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/lsra/ir`
    `github.com/klauspost/cpuid/v2`
)

// Convention selects which registers survive a call.
type Convention uint8

const (
    // SysV is the System V AMD64 calling convention, RBX, RBP and R12 to R15
    // are preserved across calls.
    SysV Convention = iota

    // GoRegABI is the Go internal register ABI. Every allocatable register
    // is clobbered by calls, R14 holds the current goroutine and R15 the GOT
    // pointer in dynamically linked code.
    GoRegABI
)

func (self Convention) String() string {
    switch self {
        case SysV     : return "sysv"
        case GoRegABI : return "goregabi"
        default       : return "???"
    }
}

var ArchRegs = [...]x86_64.Register64 {
    x86_64.RAX,
    x86_64.RCX,
    x86_64.RDX,
    x86_64.RBX,
    x86_64.RSP,
    x86_64.RBP,
    x86_64.RSI,
    x86_64.RDI,
    x86_64.R8,
    x86_64.R9,
    x86_64.R10,
    x86_64.R11,
    x86_64.R12,
    x86_64.R13,
    x86_64.R14,
    x86_64.R15,
}

var vectorRegs = [...]x86_64.XMMRegister {
    x86_64.XMM0,  x86_64.XMM1,  x86_64.XMM2,  x86_64.XMM3,
    x86_64.XMM4,  x86_64.XMM5,  x86_64.XMM6,  x86_64.XMM7,
    x86_64.XMM8,  x86_64.XMM9,  x86_64.XMM10, x86_64.XMM11,
    x86_64.XMM12, x86_64.XMM13, x86_64.XMM14, x86_64.XMM15,
    x86_64.XMM16, x86_64.XMM17, x86_64.XMM18, x86_64.XMM19,
    x86_64.XMM20, x86_64.XMM21, x86_64.XMM22, x86_64.XMM23,
    x86_64.XMM24, x86_64.XMM25, x86_64.XMM26, x86_64.XMM27,
    x86_64.XMM28, x86_64.XMM29, x86_64.XMM30, x86_64.XMM31,
}

// VectorRegs returns the number of vector registers of the host, which is
// 32 with AVX-512 and 16 otherwise.
func VectorRegs() int {
    if cpuid.CPU.Supports(cpuid.AVX512F) {
        return 32
    } else {
        return 16
    }
}

// RegName returns the register name without the AT&T sigil.
func RegName(r fmt.Stringer) string {
    return strings.TrimPrefix(r.String(), "%")
}

func reserved(r x86_64.Register64, cc Convention) bool {
    switch r {
        case x86_64.RSP : return true
        case x86_64.RBP : return true
        case x86_64.R14 : return cc == GoRegABI
        case x86_64.R15 : return cc == GoRegABI
        default         : return false
    }
}

func callerSaved(r x86_64.Register64, cc Convention) bool {
    switch r {
        case x86_64.RBX, x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15 : return cc == GoRegABI
        default                                                          : return !reserved(r, cc)
    }
}

// AMD64 builds the register file of the host for the calling convention.
// General purpose registers come first, in encoding order, followed by the
// vector registers.
func AMD64(cc Convention) *ir.Platform {
    return amd64(cc, VectorRegs())
}

func amd64(cc Convention, nv int) *ir.Platform {
    regs := make([]ir.RegInfo, 0, len(ArchRegs) + nv)

    /* general purpose registers */
    for _, r := range ArchRegs {
        regs = append(regs, ir.RegInfo {
            Name        : RegName(r),
            Class       : ir.C_int,
            Reserved    : reserved(r, cc),
            CallerSaved : callerSaved(r, cc),
        })
    }

    /* vector registers, none of them survives a call */
    for _, r := range vectorRegs[:nv] {
        regs = append(regs, ir.RegInfo {
            Name        : RegName(r),
            Class       : ir.C_float,
            CallerSaved : true,
        })
    }

    /* 128-bit integers live in two registers */
    return &ir.Platform {
        Name           : "amd64/" + cc.String(),
        Regs           : regs,
        PairRegs       : true,
        AlignWideSlots : true,
    }
}
