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
    `testing`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/lsra/ir`
    `github.com/stretchr/testify/require`
)

func regIndex(p *ir.Platform, reg fmt.Stringer) int {
    for i, r := range p.Regs {
        if r.Name == RegName(reg) {
            return i
        }
    }
    return -1
}

func TestAMD64_SysV(t *testing.T) {
    p := amd64(SysV, 16)
    require.Equal(t, "amd64/sysv", p.Name)
    require.Len(t, p.Regs, 32)
    require.True(t, p.NeedsPair(ir.C_int, true))
    require.False(t, p.NeedsPair(ir.C_float, true))

    /* the stack and frame pointers are never allocated */
    require.True(t, p.Regs[regIndex(p, x86_64.RSP)].Reserved)
    require.True(t, p.Regs[regIndex(p, x86_64.RBP)].Reserved)
    require.Len(t, p.Allocatable(ir.C_int), 14)
    require.Len(t, p.Allocatable(ir.C_float), 16)

    /* callee-saved registers */
    for _, r := range []x86_64.Register64 { x86_64.RBX, x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15 } {
        require.False(t, p.Regs[regIndex(p, r)].CallerSaved, RegName(r))
    }
    require.True(t, p.Regs[regIndex(p, x86_64.RAX)].CallerSaved)
    require.True(t, p.Regs[regIndex(p, x86_64.XMM0)].CallerSaved)
}

func TestAMD64_GoRegABI(t *testing.T) {
    p := amd64(GoRegABI, 16)
    require.Equal(t, "amd64/goregabi", p.Name)
    require.True(t, p.Regs[regIndex(p, x86_64.R14)].Reserved)
    require.True(t, p.Regs[regIndex(p, x86_64.R15)].Reserved)
    require.Len(t, p.Allocatable(ir.C_int), 12)

    /* every allocatable register is clobbered by calls */
    for _, r := range p.Allocatable(ir.C_int) {
        require.True(t, p.Regs[r].CallerSaved, p.Regs[r].Name)
    }
}

func TestAMD64_VectorRegs(t *testing.T) {
    p := AMD64(SysV)
    n := VectorRegs()
    require.Contains(t, []int { 16, 32 }, n)
    require.Len(t, p.Allocatable(ir.C_float), n)
    require.Len(t, amd64(SysV, 32).Allocatable(ir.C_float), 32)
}
