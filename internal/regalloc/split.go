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

// split cuts the interval at pos, the new child takes everything after.
func (self *_Walker) split(it *Interval, pos int) (*Interval, error) {
    if pos <= it.From() || pos >= it.To() {
        return nil, utils.EInternal(self.ls.fn, "split", "split position %d outside of %s", pos, it)
    }

    /* create the child */
    child, err := self.ls.newChild(it, pos)
    if err != nil {
        return nil, err
    }

    /* move the tail */
    it.splitAt(pos, child)
    return child, nil
}

// insertMove records a move between two parts of the same value. Moves are
// placed right before the instruction following pos.
func (self *_Walker) insertMove(pos int, from *Interval, to *Interval) {
    self.ls.addPendingMove((pos + 1) &^ 1, from, to)
}

// optimalBlockBoundary looks for the block boundary with the lowest loop
// depth between two blocks, preferring the end of the last one.
func (self *_Walker) optimalBlockBoundary(min *_Block, max *_Block, limit int) int {
    ret := max.last + 2
    if ret > limit {
        ret = max.first
    }

    /* find the shallowest block in between */
    depth := max.bb.Depth
    for i := max.bb.Index - 1; i >= min.bb.Index; i-- {
        if b := &self.ls.blocks[i]; b.bb.Depth < depth {
            depth = b.bb.Depth
            ret = b.last + 2
        }
    }
    return ret
}

// findOptimalSplitPos picks a split position in [min, max], moving it to a
// block boundary of low loop depth where possible.
func (self *_Walker) findOptimalSplitPos(it *Interval, min int, max int, loopOpt bool) int {
    if min == max {
        return min
    }

    /* the blocks of both ends, min may be the first position of a block */
    minBlock := self.ls.blockOf(min - 1)
    maxBlock := self.ls.blockOf(max - 1)

    /* can not move to a block boundary, split as late as possible */
    if minBlock == maxBlock {
        return max
    }

    /* the interval is not live right before max, no reason to reload earlier */
    if it.hasHoleBetween(max - 1, max) && !self.ls.isBlockBegin(max) {
        return max
    }

    /* reload before entering a loop that uses the value */
    if loopOpt {
        end := it.nextUsageExact(U_loopEnd, minBlock.last + 2)
        if end < max {
            loop := self.ls.blockOf(end)
            if ret := self.optimalBlockBoundary(minBlock, loop, loop.last + 2); ret != loop.last + 2 {
                return ret
            }
        }
    }

    /* search between min and max */
    return self.optimalBlockBoundary(minBlock, maxBlock, max)
}

// splitBeforeUsage splits the interval between min and max. The new child
// goes back to the unhandled list to get a register of its own.
func (self *_Walker) splitBeforeUsage(it *Interval, min int, max int) error {
    if min >= it.To() {
        return nil
    }

    /* keep the range valid */
    if max < min {
        max = min
    }

    /* the split position would be right at the end, nothing to split */
    pos := self.findOptimalSplitPos(it, min, max, true)
    if pos >= it.To() && it.nextUsage(U_must, min) == _MaxPos {
        return nil
    }

    /* a move is needed unless the value is dead right before the split */
    begin := self.ls.isBlockBegin(pos)
    move := !begin && !it.hasHoleBetween(pos - 1, pos)

    /* split between instructions */
    if !begin {
        pos = (pos - 1) | 1
    }

    /* perform the split */
    child, err := self.split(it, pos)
    if err != nil {
        return err
    }

    /* the child is allocated later */
    child.moveOnLoad = move
    self.unhandled.Push(child)
    return nil
}

// splitForSpilling moves the part of the interval after its last use before
// the current position to the stack.
func (self *_Walker) splitForSpilling(it *Interval) error {
    max := self.pos
    min := maxInt(it.previousUsage(U_should, max) + 1, it.From())

    /* the interval is used at the current position */
    if min > max {
        min = max
    }

    /* find the split position, between instructions if possible */
    pos := it.From()
    begin := false

    /* only if it was used before the current position */
    if min > it.From() {
        pos = self.findOptimalSplitPos(it, min, max, false)
        begin = self.ls.isBlockBegin(pos)
        if !begin {
            pos = (pos - 1) | 1
        }
    }

    /* never used before the split position, spill the whole interval */
    if pos <= it.From() {
        if err := self.ls.assignSpillSlot(it, it.From()); err != nil {
            return err
        }

        /* the interval goes to memory */
        self.ls.changeSpillState(it, it.From())
        return self.kickUnusedParents(it)
    }

    /* split the interval */
    spilled, err := self.split(it, pos)
    if err != nil {
        return err
    }

    /* the spilled part lives on the stack */
    if err = self.ls.assignSpillSlot(spilled, pos); err != nil {
        return err
    }

    /* store the value, block boundaries are resolved later */
    self.ls.changeSpillState(spilled, pos)
    if !begin {
        self.insertMove(pos, it, spilled)
    }

    /* the spilled part holds the value now */
    self.ls.parentOf(it).lastChild = spilled.Id
    return self.ls.setState(spilled, I_handled)
}

// kickUnusedParents moves the parts of the value right before a spilled
// interval to memory too, as long as they never need a register.
func (self *_Walker) kickUnusedParents(it *Interval) error {
    for !it.IsSplitParent() {
        if it = self.ls.splitChildBefore(it); it == nil {
            return nil
        }

        /* already in memory, keep looking backwards */
        if !it.HasRegister() {
            continue
        }

        /* the register is actually used */
        if it.firstUsage(U_should) != _MaxPos {
            return nil
        }

        /* kick it out of the register */
        if err := self.ls.assignSpillSlot(it, it.From()); err != nil {
            return err
        }

        /* spill state changes as well */
        self.ls.changeSpillState(it, it.From())
    }
    return nil
}

// splitStackInterval gives an interval starting on the stack a chance to
// get a register before its first use.
func (self *_Walker) splitStackInterval(it *Interval) error {
    return self.splitBeforeUsage(it, self.pos + 1, minInt(it.firstUsage(U_should), it.To()))
}

// splitWhenPartialRegisterAvailable splits the interval before the register
// assigned to it becomes unavailable.
func (self *_Walker) splitWhenPartialRegisterAvailable(it *Interval, until int) error {
    min := maxInt(it.previousUsage(U_should, until), it.From() + 1)
    return self.splitBeforeUsage(it, min, until)
}

// splitAndSpillInterval frees the register of an interval from the current
// position on, until its next use that needs a register.
func (self *_Walker) splitAndSpillInterval(it *Interval) error {
    pos := self.pos

    /* inactive intervals are not using the register now, a split is enough */
    if it.State == I_inactive {
        return self.splitBeforeUsage(it, pos + 1, pos + 1)
    }

    /* reload right before the next use that needs a register */
    max := minInt(it.nextUsage(U_must, pos + 1), it.To())
    if err := self.splitBeforeUsage(it, pos + 1, max); err != nil {
        return err
    }

    /* spill the part in between */
    return self.splitForSpilling(it)
}

// splitChildBefore returns the part of the value that ends last before it starts.
func (self *LinearScan) splitChildBefore(it *Interval) *Interval {
    var ret *Interval
    var pos = it.From()
    var parent = self.parentOf(it)

    /* the split parent itself */
    if parent != it && parent.To() <= pos {
        ret = parent
    }

    /* any of the children */
    for _, id := range parent.Children {
        if c := self.iv[id]; c != it && c.To() <= pos && (ret == nil || ret.To() < c.To()) {
            ret = c
        }
    }
    return ret
}
