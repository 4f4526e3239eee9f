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

package regalloc

import (
    `testing`

    `github.com/cloudwego/lsra/internal/opts`
    `github.com/cloudwego/lsra/ir`
    `github.com/stretchr/testify/require`
)

// newTestScan creates an allocator with nv virtual registers, each holding
// its own value and assigned nothing yet.
func newTestScan(t *testing.T, nregs int, nv int) *LinearScan {
    o := opts.GetDefaultOptions()
    fn := ir.NewFunc("moves")
    ls := newLinearScan(fn, ir.Generic(nregs, 0, 0), &o)

    /* fixed intervals */
    for i := 0; i < nregs; i++ {
        it := newInterval(i, ir.C_int, false)
        it.Fixed = true
        it.value = -1
        it.assignReg(i, _NoReg)
        ls.iv = append(ls.iv, it)
    }

    /* virtual registers */
    for v := 0; v < nv; v++ {
        require.Equal(t, v, fn.NewVirtual(ir.C_int).Num)
        it := newInterval(nregs + v, ir.C_int, false)
        it.value = v
        ls.iv = append(ls.iv, it)
    }
    return ls
}

// inReg places virtual register v in register r, and returns a child of it
// placed in register dst.
func inReg(t *testing.T, ls *LinearScan, v int, r int, dst int) (*Interval, *Interval) {
    it := ls.interval(v)
    it.assignReg(r, _NoReg)
    child, err := ls.newChild(it, 0)
    require.NoError(t, err)
    child.assignReg(dst, _NoReg)
    return it, child
}

type _Machine map[int]int

func (self _Machine) key(ls *LinearScan, it *Interval) int {
    if it.Slot >= 0 {
        return ls.nregs + it.Slot
    } else {
        return it.Reg
    }
}

// run executes the moves sequentially, constants are stored as their negated value minus one.
func (self _Machine) run(ls *LinearScan, mv []_Move) {
    for _, m := range mv {
        if m.from == nil {
            self[self.key(ls, m.to)] = -int(m.con.Val) - 1
        } else {
            self[self.key(ls, m.to)] = self[self.key(ls, m.from)]
        }
    }
}

func TestMoveResolver_Chain(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)

    /* r0 -> r1, r1 -> r2 */
    a, a1 := inReg(t, ls, 0, 0, 1)
    b, b1 := inReg(t, ls, 1, 1, 2)
    mr.add(a, a1)
    mr.add(b, b1)

    /* r1 must be read before it is written */
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.Len(t, mv, 2)
    require.Same(t, b, mv[0].from)
    require.Same(t, a, mv[1].from)
    require.Zero(t, ls.nslots)
}

func TestMoveResolver_Swap(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)

    /* r0 <-> r1 */
    a, a1 := inReg(t, ls, 0, 0, 1)
    b, b1 := inReg(t, ls, 1, 1, 0)
    mr.add(a, a1)
    mr.add(b, b1)

    /* resolve */
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.Len(t, mv, 3)
    require.Equal(t, 1, ls.nslots)

    /* simulate */
    m := _Machine { 0: 0, 1: 1 }
    m.run(ls, mv)
    require.Equal(t, 1, m[0])
    require.Equal(t, 0, m[1])
}

func TestMoveResolver_TempNumberLimit(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)

    /* r0 <-> r1 with no number left for the temporary */
    a, a1 := inReg(t, ls, 0, 0, 1)
    b, b1 := inReg(t, ls, 1, 1, 0)
    mr.add(a, a1)
    mr.add(b, b1)
    ls.opts.MaxVirtualRegs = ls.fn.NumVirtual

    /* resolve */
    _, err := mr.resolve()
    require.IsType(t, ir.AllocationExhaustedError{}, err)
    require.Zero(t, ls.nslots)
}

func TestLinearScan_StateTransitions(t *testing.T) {
    ls := newTestScan(t, 2, 1)
    it := ls.interval(0)

    /* unhandled, then back and forth between active and inactive */
    require.NoError(t, ls.setState(it, I_unhandled))
    require.NoError(t, ls.setState(it, I_active))
    require.NoError(t, ls.setState(it, I_inactive))
    require.NoError(t, ls.setState(it, I_active))

    /* never unhandled again */
    require.IsType(t, ir.InternalConsistencyError{}, ls.setState(it, I_unhandled))
    require.Equal(t, I_active, it.State)

    /* handled is final */
    require.NoError(t, ls.setState(it, I_handled))
    require.NoError(t, ls.setState(it, I_handled))
    require.IsType(t, ir.InternalConsistencyError{}, ls.setState(it, I_active))
    require.IsType(t, ir.InternalConsistencyError{}, ls.setState(it, I_inactive))
    require.Equal(t, I_handled, it.State)
}

func TestMoveResolver_Cycle(t *testing.T) {
    ls := newTestScan(t, 4, 3)
    mr := ls.newMoveResolver(2)

    /* r0 -> r1 -> r2 -> r0 */
    a, a1 := inReg(t, ls, 0, 0, 1)
    b, b1 := inReg(t, ls, 1, 1, 2)
    c, c1 := inReg(t, ls, 2, 2, 0)
    mr.add(a, a1)
    mr.add(b, b1)
    mr.add(c, c1)

    /* at most one extra move */
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.LessOrEqual(t, len(mv), 4)

    /* simulate */
    m := _Machine { 0: 0, 1: 1, 2: 2 }
    m.run(ls, mv)
    require.Equal(t, 2, m[0])
    require.Equal(t, 0, m[1])
    require.Equal(t, 1, m[2])
}

func TestMoveResolver_ConstantAfterRead(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)

    /* r0 -> r1, then $7 -> r0 */
    a, a1 := inReg(t, ls, 0, 0, 1)
    k := ls.interval(1)
    k.assignReg(0, _NoReg)
    mr.add(a, a1)
    mr.addConst(ir.Const(7, ir.C_int), k)

    /* resolve */
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.Len(t, mv, 2)

    /* simulate */
    m := _Machine { 0: 0 }
    m.run(ls, mv)
    require.Equal(t, 0, m[1])
    require.Equal(t, -8, m[0])
}

func TestMoveResolver_SameLocation(t *testing.T) {
    ls := newTestScan(t, 4, 1)
    mr := ls.newMoveResolver(2)
    a, a1 := inReg(t, ls, 0, 2, 2)
    mr.add(a, a1)
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.Empty(t, mv)
}

func TestMoveResolver_DuplicateDestination(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)
    a, a1 := inReg(t, ls, 0, 0, 2)
    b, b1 := inReg(t, ls, 1, 1, 2)
    mr.add(a, a1)
    mr.add(b, b1)
    _, err := mr.resolve()
    require.IsType(t, ir.InternalConsistencyError{}, err)
}

func TestMoveResolver_MultiRead(t *testing.T) {
    ls := newTestScan(t, 4, 1)
    a, a1 := inReg(t, ls, 0, 0, 1)
    a2, err := ls.newChild(a, 0)
    require.NoError(t, err)
    a2.assignReg(2, _NoReg)

    /* reading twice is only allowed on exception edges */
    mr := ls.newMoveResolver(2)
    mr.add(a, a1)
    mr.add(a, a2)
    _, err = mr.resolve()
    require.Error(t, err)

    /* now with multiple reads */
    mr = ls.newMoveResolver(2)
    mr.multiRead = true
    mr.add(a, a1)
    mr.add(a, a2)
    mv, err := mr.resolve()
    require.NoError(t, err)
    require.Len(t, mv, 2)
}

func TestMoveResolver_Unassigned(t *testing.T) {
    ls := newTestScan(t, 4, 2)
    mr := ls.newMoveResolver(2)
    ls.interval(1).assignReg(0, _NoReg)
    mr.add(ls.interval(0), ls.interval(1))
    _, err := mr.resolve()
    require.IsType(t, ir.InternalConsistencyError{}, err)
}

func TestSpillSlots_WideAlignment(t *testing.T) {
    ls := newTestScan(t, 4, 0)
    narrow := newInterval(0, ir.C_int, false)
    wide := newInterval(1, ir.C_int, true)

    /* [0] narrow, [1] hole, [2, 3] wide, then the hole is reused */
    s0, err := ls.allocateSpillSlot(narrow, 0)
    require.NoError(t, err)
    s1, err := ls.allocateSpillSlot(wide, 0)
    require.NoError(t, err)
    s2, err := ls.allocateSpillSlot(narrow, 0)
    require.NoError(t, err)
    require.Equal(t, 0, s0)
    require.Equal(t, 2, s1)
    require.Equal(t, 1, s2)
    require.Equal(t, 4, ls.nslots)
}

func TestSpillSlots_Limit(t *testing.T) {
    ls := newTestScan(t, 4, 0)
    ls.opts.MaxSpillSlots = 1
    it := newInterval(0, ir.C_int, false)
    _, err := ls.allocateSpillSlot(it, 0)
    require.NoError(t, err)
    _, err = ls.allocateSpillSlot(it, 0)
    require.IsType(t, ir.AllocationExhaustedError{}, err)
}
