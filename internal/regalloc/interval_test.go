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

    `github.com/cloudwego/lsra/ir`
    `github.com/stretchr/testify/require`
)

// buildInterval adds the ranges in the order the builder does, last block first.
func buildInterval(rr ...Range) *Interval {
    it := newInterval(0, ir.C_int, false)
    for i := len(rr) - 1; i >= 0; i-- {
        it.addRange(rr[i].From, rr[i].To)
    }
    it.finish()
    return it
}

func TestInterval_AddRange(t *testing.T) {
    it := newInterval(0, ir.C_int, false)
    it.addRange(10, 14)
    it.addRange(4, 8)
    it.addRange(2, 6)
    it.finish()
    require.Equal(t, []Range { { 2, 8 }, { 10, 14 } }, it.Ranges)
    require.Equal(t, it.Ranges, it.original)
    require.Equal(t, 2, it.From())
    require.Equal(t, 14, it.To())
}

func TestInterval_AddRangeAdjacent(t *testing.T) {
    it := newInterval(0, ir.C_int, false)
    it.addRange(10, 14)
    it.addRange(8, 10)
    it.finish()
    require.Equal(t, []Range { { 8, 14 } }, it.Ranges)
}

func TestInterval_Covers(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    require.True(t, it.Covers(4, ir.M_output))
    require.True(t, it.Covers(8, ir.M_input))
    require.False(t, it.Covers(8, ir.M_output))
    require.False(t, it.Covers(9, ir.M_input))
    require.True(t, it.Covers(10, ir.M_output))
    require.False(t, it.Covers(2, ir.M_input))
    require.False(t, it.Covers(16, ir.M_input))
    require.True(t, it.coversStrictly(12))
}

func TestInterval_HasHoleBetween(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    require.True(t, it.hasHoleBetween(4, 14))
    require.True(t, it.hasHoleBetween(6, 12))
    require.False(t, it.hasHoleBetween(4, 8))
    require.False(t, it.hasHoleBetween(10, 13))
}

func TestInterval_IntersectsAt(t *testing.T) {
    a := []Range { { 0, 4 }, { 8, 12 } }
    require.Equal(t, -1, intersectsAt(a, []Range { { 4, 8 } }))
    require.Equal(t, 8, intersectsAt(a, []Range { { 6, 10 } }))
    require.Equal(t, 2, intersectsAt(a, []Range { { 2, 3 } }))
    require.Equal(t, 8, intersectsAt(a, []Range { { 8, 9 } }))
    require.Equal(t, -1, intersectsAt(a, nil))
}

func TestInterval_UsePositions(t *testing.T) {
    it := buildInterval(Range { 4, 14 })
    it.addUsePos(12, U_must)
    it.addUsePos(6, U_should)
    it.addUsePos(6, U_must)
    it.addUsePos(5, U_none)
    require.Equal(t, []Use { { 12, U_must }, { 6, U_must } }, it.Uses)
    require.Equal(t, 6, it.firstUsage(U_must))
    require.Equal(t, 12, it.nextUsage(U_must, 7))
    require.Equal(t, _MaxPos, it.nextUsage(U_should, 13))
    require.Equal(t, 6, it.previousUsage(U_must, 11))
    require.Equal(t, 0, it.previousUsage(U_must, 5))
    require.Equal(t, 12, it.nextUsageExact(U_must, 7))
    require.Equal(t, _MaxPos, it.nextUsageExact(U_should, 0))
}

func TestInterval_FixedHasNoUses(t *testing.T) {
    it := newInterval(0, ir.C_int, false)
    it.Fixed = true
    it.addUsePos(4, U_must)
    require.Empty(t, it.Uses)
}

func TestInterval_SplitInsideRange(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    it.addUsePos(12, U_must)
    it.addUsePos(6, U_must)

    /* split in the middle of the second range */
    child := newInterval(1, ir.C_int, false)
    it.splitAt(11, child)
    require.Equal(t, []Range { { 4, 8 }, { 10, 11 } }, it.Ranges)
    require.Equal(t, []Range { { 11, 14 } }, child.Ranges)
    require.Equal(t, []Use { { 6, U_must } }, it.Uses)
    require.Equal(t, []Use { { 12, U_must } }, child.Uses)

    /* the original ranges are kept for verification */
    require.Equal(t, []Range { { 4, 8 }, { 10, 14 } }, it.original)
}

func TestInterval_SplitAtRangeStart(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    child := newInterval(1, ir.C_int, false)
    it.splitAt(10, child)
    require.Equal(t, []Range { { 4, 8 } }, it.Ranges)
    require.Equal(t, []Range { { 10, 14 } }, child.Ranges)
}

func TestInterval_SplitInHole(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    child := newInterval(1, ir.C_int, false)
    it.splitAt(9, child)
    require.Equal(t, []Range { { 4, 8 } }, it.Ranges)
    require.Equal(t, []Range { { 10, 14 } }, child.Ranges)
}

func TestInterval_Cursor(t *testing.T) {
    it := buildInterval(Range { 4, 8 }, Range { 10, 14 })
    other := buildInterval(Range { 12, 16 })
    require.Equal(t, 4, it.currentFrom())
    require.Equal(t, 8, it.currentTo())
    require.Equal(t, 12, it.currentIntersectsAt(other))

    /* past the last range */
    it.current = 2
    require.True(t, it.atEnd())
    require.Equal(t, _MaxPos, it.currentFrom())
    require.False(t, it.currentIntersects(other))

    /* back to the start */
    it.rewind()
    require.False(t, it.atEnd())
}

func TestInterval_Locations(t *testing.T) {
    a := newInterval(0, ir.C_int, false)
    b := newInterval(1, ir.C_int, false)
    require.False(t, a.assigned())
    a.assignReg(3, _NoReg)
    b.assignReg(3, _NoReg)
    require.True(t, a.HasRegister())
    require.True(t, a.sameLocation(b))
    b.assignSlot(2)
    require.True(t, b.OnStack())
    require.False(t, b.HasRegister())
    require.False(t, a.sameLocation(b))
}

func TestInterval_String(t *testing.T) {
    it := buildInterval(Range { 4, 8 })
    it.value = 3
    it.assignSlot(1)
    it.addUsePos(6, U_must)
    require.Equal(t, "i0(v3, p=i0) [sp+1] {[4, 8)} uses {6:must}", it.String())
}
