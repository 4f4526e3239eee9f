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
)

// RegInfo describes one physical register. Reserved registers are never
// handed out by the allocator but may still appear as fixed operands.
type RegInfo struct {
    Name        string
    Class       Class
    CallerSaved bool
    Reserved    bool
}

// Platform is the register file and frame layout rules of a target. The
// allocator consumes it as configuration and never derives it.
type Platform struct {
    Name           string
    Regs           []RegInfo
    PairRegs       bool
    PairAligned    bool
    AlignWideSlots bool
}

// NewPlatform builds a platform from a register list.
func NewPlatform(name string, regs ...RegInfo) *Platform {
    return &Platform {
        Name : name,
        Regs : regs,
    }
}

// Generic builds a platform with `ints` integer and `floats` float registers.
// The first `calleeSaved` integer registers survive calls, everything else is
// clobbered by them.
func Generic(ints int, floats int, calleeSaved int) *Platform {
    regs := make([]RegInfo, 0, ints + floats)

    /* integer registers */
    for i := 0; i < ints; i++ {
        regs = append(regs, RegInfo {
            Name        : fmt.Sprintf("r%d", i),
            Class       : C_int,
            CallerSaved : i >= calleeSaved,
        })
    }

    /* float registers */
    for i := 0; i < floats; i++ {
        regs = append(regs, RegInfo {
            Name        : fmt.Sprintf("f%d", i),
            Class       : C_float,
            CallerSaved : true,
        })
    }

    /* construct the platform */
    return &Platform {
        Name           : fmt.Sprintf("generic/%d+%d", ints, floats),
        Regs           : regs,
        AlignWideSlots : true,
    }
}

func (self *Platform) NumRegs() int {
    return len(self.Regs)
}

// RegName returns the printable name of register r.
func (self *Platform) RegName(r int) string {
    if self == nil || r < 0 || r >= len(self.Regs) {
        return fmt.Sprintf("r%d", r)
    } else {
        return self.Regs[r].Name
    }
}

// Allocatable lists the registers of class c the allocator may assign.
func (self *Platform) Allocatable(c Class) (ret []int) {
    for i, r := range self.Regs {
        if r.Class == c && !r.Reserved {
            ret = append(ret, i)
        }
    }
    return
}

// CallerSaved lists every register clobbered by a call.
func (self *Platform) CallerSaved() (ret []int) {
    for i, r := range self.Regs {
        if r.CallerSaved {
            ret = append(ret, i)
        }
    }
    return
}

// NeedsPair reports whether a value of class c and width `wide` occupies two registers.
func (self *Platform) NeedsPair(c Class, wide bool) bool {
    return wide && c == C_int && self.PairRegs
}
