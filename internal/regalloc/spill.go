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
    `github.com/cloudwego/lsra/internal/utils`
)

// allocateSpillSlot reserves a new slot in the spill area, right after the
// incoming arguments. Double-width slots may be aligned to an even index,
// the resulting hole is handed to the next single-width request.
func (self *LinearScan) allocateSpillSlot(it *Interval, pos int) (int, error) {
    var idx int
    var end int

    /* reuse the alignment hole if possible */
    if !it.Wide && self.hole >= 0 {
        idx, self.hole = self.hole, -1
        return self.fn.ArgSlots + idx, nil
    }

    /* align double-width slots */
    if it.Wide && self.plat.AlignWideSlots && self.nslots & 1 != 0 {
        self.hole = self.nslots
        self.nslots++
    }

    /* allocate the slot */
    idx = self.nslots
    end = idx + slotWidth(it.Wide)

    /* check for frame size */
    if !self.opts.CanSpill(end) {
        return 0, utils.EExhausted(self.fn, it.Id, pos, "too many spill slots (%d)", end)
    }

    /* update the slot count */
    self.nslots = end
    self.stats.Slots = end
    return self.fn.ArgSlots + idx, nil
}

// assignSpillSlot places the interval in the canonical slot of its value,
// allocating it on first use. Every stack child of a value shares that slot.
func (self *LinearScan) assignSpillSlot(it *Interval, pos int) error {
    parent := self.parentOf(it)
    if parent.canonical < 0 {
        if slot, err := self.allocateSpillSlot(it, pos); err != nil {
            return err
        } else {
            parent.canonical = slot
        }
    }

    /* use the canonical slot */
    it.assignSlot(parent.canonical)
    return nil
}

// changeSpillDefinitionPos records a definition of a split parent. Intervals
// are built backwards, so a second call means the value is defined twice.
func (self *LinearScan) changeSpillDefinitionPos(it *Interval, pos int) {
    switch it.spillState {
        case S_noDefinitionFound: {
            it.spillDef = pos
            it.spillState = S_oneDefinitionFound
        }
        case S_oneDefinitionFound: {
            if pos != it.spillDef {
                it.spillState = S_noOptimization
            }
        }
    }
}

// changeSpillState records that part of the value is moved to memory at pos.
// Storing right after the definition is preferred once the value is spilled
// more than once, or spilled inside a loop deeper than its definition.
func (self *LinearScan) changeSpillState(it *Interval, pos int) {
    parent := self.parentOf(it)
    switch parent.spillState {
        case S_oneDefinitionFound: {
            if self.blockOf(parent.spillDef).bb.Depth < self.blockOf(pos).bb.Depth {
                parent.spillState = S_storeAtDefinition
            } else {
                parent.spillState = S_oneMoveInserted
            }
        }
        case S_oneMoveInserted: {
            parent.spillState = S_storeAtDefinition
        }
    }
}

func slotWidth(wide bool) int {
    if wide {
        return 2
    } else {
        return 1
    }
}
