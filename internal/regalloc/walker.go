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
    `context`

    `github.com/cloudwego/lsra/internal/utils`
    `github.com/cloudwego/lsra/ir`
    `nikand.dev/go/heap`
    `tlog.app/go/tlog`
)

// _Walker allocates the intervals of one register class in order of their
// start position.
type _Walker struct {
    ls        *LinearScan
    tr        tlog.Span
    class     ir.Class
    regs      []int
    pairs     bool
    aligned   bool
    pos       int
    cur       *Interval
    unhandled heap.Heap[*Interval]
    active    []*Interval
    inactive  []*Interval
    usePos    []int
    blockPos  []int
    spillIvs  [][]*Interval
}

func unhandledLess(d []*Interval, i int, j int) bool {
    a, b := d[i], d[j]
    switch {
        case a.From() != b.From() : return a.From() < b.From()
        case a.Fixed != b.Fixed   : return a.Fixed
        default                   : return a.Id < b.Id
    }
}

func newWalker(ls *LinearScan, tr tlog.Span, c ir.Class) (*_Walker, error) {
    ret := &_Walker {
        ls        : ls,
        tr        : tr,
        class     : c,
        regs      : ls.plat.Allocatable(c),
        pairs     : c == ir.C_int && ls.plat.PairRegs,
        aligned   : ls.plat.PairAligned,
        usePos    : make([]int, ls.nregs),
        blockPos  : make([]int, ls.nregs),
        spillIvs  : make([][]*Interval, ls.nregs),
        unhandled : heap.Heap[*Interval] { Less: unhandledLess },
    }

    /* every non-empty interval of this class */
    for _, it := range ls.iv {
        if it != nil && it.Class == c && len(it.Ranges) != 0 {
            it.rewind()
            if err := ls.setState(it, I_unhandled); err != nil {
                return nil, err
            }
            ret.unhandled.Push(it)
        }
    }
    return ret, nil
}

// needsPair reports whether the interval occupies two registers.
func (self *_Walker) needsPair(it *Interval) bool {
    return self.pairs && it.Wide
}

// walkTo advances every active and inactive interval to pos, moving them
// between the lists as their ranges start and end.
func (self *_Walker) walkTo(pos int) error {
    var err      error
    var active   []*Interval
    var inactive []*Interval

    /* check both lists */
    for _, list := range [2][]*Interval { self.active, self.inactive } {
        for _, it := range list {
            for it.currentTo() <= pos {
                it.current++
            }

            /* update the state */
            switch {
                case it.atEnd(): {
                    err = self.ls.setState(it, I_handled)
                }
                case it.currentFrom() <= pos: {
                    err = self.ls.setState(it, I_active)
                    active = append(active, it)
                }
                default: {
                    err = self.ls.setState(it, I_inactive)
                    inactive = append(inactive, it)
                }
            }

            /* check for errors */
            if err != nil {
                return err
            }
        }
    }

    /* update the lists */
    self.pos = pos
    self.active = active
    self.inactive = inactive
    return nil
}

// walk allocates every unhandled interval.
func (self *_Walker) walk() error {
    for self.unhandled.Len() != 0 {
        cur := self.unhandled.Pop()
        if err := self.walkTo(cur.From()); err != nil {
            return err
        }

        /* try to activate the interval */
        self.cur = cur
        if err := self.ls.setState(cur, I_active); err != nil {
            return err
        }

        /* allocate it */
        ok, err := self.activateCurrent()
        if err != nil {
            return err
        }

        /* intervals without a register are never active */
        if ok {
            self.active = append(self.active, cur)
        } else if err = self.ls.setState(cur, I_handled); err != nil {
            return err
        }
    }
    return nil
}

// activateCurrent allocates the current interval. It reports whether the
// interval got a register and has to be moved to the active list.
func (self *_Walker) activateCurrent() (bool, error) {
    var err error
    var ret = true
    var cur = self.cur

    /* fixed intervals are allocated already */
    if cur.Fixed {
        return true, nil
    }

    /* intervals starting on the stack are split right before their first use */
    if cur.OnStack() {
        ret = false
        err = self.splitStackInterval(cur)
    } else if !cur.assigned() {
        if self.noAllocationPossible(cur) {
            err = self.allocLockedReg(cur)
        } else if ok, e := self.allocFreeReg(cur); e != nil {
            err = e
        } else if !ok {
            err = self.allocLockedReg(cur)
        }

        /* the interval might have been spilled */
        if err == nil && cur.OnStack() {
            ret = false
        }
    }

    /* check for errors */
    if err != nil {
        return false, err
    }

    /* reload spilled values when they become active */
    parent := self.ls.parentOf(cur)
    if cur.moveOnLoad && parent.lastChild >= 0 {
        self.insertMove(cur.From(), self.ls.iv[parent.lastChild], cur)
    }

    /* the interval now holds the value */
    parent.lastChild = cur.Id
    if self.tr.If("lsra_walk") {
        self.tr.Printw("activated", "interval", cur.String())
    }
    return ret, nil
}

// noAllocationPossible detects intervals that start right before a call
// destroying every register of the class.
func (self *_Walker) noAllocationPossible(cur *Interval) bool {
    pos := cur.From()

    /* only for split children starting between two instructions */
    if pos & 1 == 0 || !self.ls.hasCall(pos + 1) {
        return false
    }

    /* every register of the class must be caller-saved */
    for _, r := range self.regs {
        if !self.ls.plat.Regs[r].CallerSaved {
            return false
        }
    }
    return true
}

// setState moves the interval to another walker state. Nothing goes back to
// unhandled, and handled intervals stay handled.
func (self *LinearScan) setState(it *Interval, st State) error {
    if it.State != st && (st == I_unhandled || it.State == I_handled) {
        return utils.EInternal(self.fn, "walk", "interval %s can not go from %s to %s", it, it.State, st)
    } else {
        it.State = st
        return nil
    }
}

/** Register Usage **/

func (self *_Walker) resetUsage() {
    for _, r := range self.regs {
        self.usePos[r] = _MaxPos
        self.blockPos[r] = _MaxPos
        self.spillIvs[r] = self.spillIvs[r][:0]
    }
}

func (self *_Walker) setUsePos(it *Interval, pos int, spill bool) {
    if pos < 0 {
        return
    }

    /* both halves of a pair */
    for _, r := range [2]int { it.Reg, it.Hi } {
        if r != _NoReg {
            if self.usePos[r] > pos {
                self.usePos[r] = pos
            }
            if spill {
                self.spillIvs[r] = append(self.spillIvs[r], it)
            }
        }
    }
}

func (self *_Walker) setBlockPos(it *Interval, pos int) {
    if pos < 0 {
        return
    }

    /* both halves of a pair */
    for _, r := range [2]int { it.Reg, it.Hi } {
        if r != _NoReg {
            if self.blockPos[r] > pos {
                self.blockPos[r] = pos
            }
            if self.usePos[r] > pos {
                self.usePos[r] = pos
            }
        }
    }
}

// collectFree computes how long every register stays free: registers of
// active intervals are taken, inactive ones become taken where they
// intersect the current interval.
func (self *_Walker) collectFree(cur *Interval) {
    self.resetUsage()

    /* active intervals */
    for _, it := range self.active {
        self.setUsePos(it, 0, false)
    }

    /* inactive intervals */
    for _, it := range self.inactive {
        if it.Fixed && cur.To() <= it.currentFrom() {
            self.setUsePos(it, it.currentFrom(), false)
        } else {
            self.setUsePos(it, it.currentIntersectsAt(cur), false)
        }
    }
}

// collectLocked computes the next use of every register, and the position
// where fixed intervals block it.
func (self *_Walker) collectLocked(cur *Interval) {
    self.resetUsage()

    /* fixed intervals block their registers */
    for _, it := range self.active {
        if it.Fixed {
            self.setBlockPos(it, 0)
        }
    }
    for _, it := range self.inactive {
        if it.Fixed && cur.To() > it.currentFrom() {
            self.setBlockPos(it, it.currentIntersectsAt(cur))
        }
    }

    /* other intervals can be spilled */
    for _, it := range self.active {
        if !it.Fixed {
            self.setUsePos(it, minInt(it.nextUsage(U_loopEnd, self.pos), it.To()), true)
        }
    }
    for _, it := range self.inactive {
        if !it.Fixed && it.currentIntersects(cur) {
            self.setUsePos(it, minInt(it.nextUsage(U_loopEnd, self.pos), it.To()), true)
        }
    }
}

// hintOf returns the register the current interval would like to have.
func (self *_Walker) hintOf(cur *Interval) int {
    if cur.Hint < 0 {
        return _NoReg
    }

    /* the hinted interval itself */
    hint := self.ls.iv[cur.Hint]
    if hint.HasRegister() {
        return hint.Reg
    }

    /* or any of its children that got a register */
    for _, id := range hint.Children {
        if it := self.ls.iv[id]; it.HasRegister() {
            return it.Reg
        }
    }
    return _NoReg
}

/** Free Register Allocation **/

func (self *_Walker) findFreeReg(needed int, end int, hint int, ignore int) (int, bool) {
    full := _NoReg
    part := _NoReg

    /* find the best fit */
    for _, r := range self.regs {
        if r == ignore {
            continue
        }

        /* free for the whole interval, take the tightest */
        if self.usePos[r] >= end {
            if full == _NoReg || r == hint || (self.usePos[r] < self.usePos[full] && full != hint) {
                full = r
            }
            continue
        }

        /* free for a while, take the longest */
        if self.usePos[r] > needed {
            if part == _NoReg || r == hint || (self.usePos[r] > self.usePos[part] && part != hint) {
                part = r
            }
        }
    }

    /* prefer registers that are free for the whole interval */
    if full != _NoReg {
        return full, false
    } else {
        return part, part != _NoReg
    }
}

func (self *_Walker) findFreePair(needed int, end int, hint int) (int, int, bool) {
    full := -1
    part := -1

    /* scan every adjacent pair */
    for i := 0; i + 1 < len(self.regs); i += 2 {
        lo, hi := self.regs[i], self.regs[i + 1]
        use := minInt(self.usePos[lo], self.usePos[hi])

        /* free for the whole interval */
        if use >= end {
            if full < 0 || lo == hint || (use < self.pairUse(full) && self.regs[full] != hint) {
                full = i
            }
            continue
        }

        /* free for a while */
        if use > needed {
            if part < 0 || lo == hint || (use > self.pairUse(part) && self.regs[part] != hint) {
                part = i
            }
        }
    }

    /* prefer pairs that are free for the whole interval */
    switch {
        case full >= 0 : return self.regs[full], self.regs[full + 1], false
        case part >= 0 : return self.regs[part], self.regs[part + 1], true
        default        : return _NoReg, _NoReg, false
    }
}

func (self *_Walker) pairUse(i int) int {
    return minInt(self.usePos[self.regs[i]], self.usePos[self.regs[i + 1]])
}

// allocFreeReg tries to find a register that is free at least at the start
// of the current interval. It splits the interval if the register is only
// free for a part of it.
func (self *_Walker) allocFreeReg(cur *Interval) (bool, error) {
    var lo, hi int
    var split bool

    /* collect the free registers */
    self.collectFree(cur)
    hint := self.hintOf(cur)
    needed := cur.From() + 1
    end := cur.To()

    /* find the register */
    switch {
        case !self.needsPair(cur): {
            if lo, split = self.findFreeReg(needed, end, hint, _NoReg); lo == _NoReg {
                return false, nil
            }
            hi = _NoReg
        }

        /* adjacent pairs */
        case self.aligned: {
            if lo, hi, split = self.findFreePair(needed, end, hint); lo == _NoReg {
                return false, nil
            }
        }

        /* any two registers */
        default: {
            var s1, s2 bool
            if lo, s1 = self.findFreeReg(needed, end, hint, _NoReg); lo == _NoReg {
                return false, nil
            }
            if hi, s2 = self.findFreeReg(needed, end, _NoReg, lo); hi == _NoReg {
                return false, nil
            }
            if split = s1 || s2; lo > hi {
                lo, hi = hi, lo
            }
        }
    }

    /* the register is free until here */
    until := self.usePos[lo]
    if hi != _NoReg {
        until = minInt(until, self.usePos[hi])
    }

    /* assign the register, split if it is not free for the whole interval */
    cur.assignReg(lo, hi)
    if split {
        return true, self.splitWhenPartialRegisterAvailable(cur, until)
    } else {
        return true, nil
    }
}

/** Locked Register Allocation **/

func (self *_Walker) findLockedReg(needed int, end int, ignore int) (int, bool) {
    ret := _NoReg
    for _, r := range self.regs {
        if r != ignore && self.usePos[r] > needed {
            if ret == _NoReg || self.usePos[r] > self.usePos[ret] {
                ret = r
            }
        }
    }

    /* blocked by a fixed interval before the end */
    if ret != _NoReg && self.blockPos[ret] <= end {
        return ret, true
    } else {
        return ret, false
    }
}

func (self *_Walker) findLockedPair(needed int, end int) (int, int, bool) {
    ret := -1
    for i := 0; i + 1 < len(self.regs); i += 2 {
        if self.pairUse(i) > needed {
            if ret < 0 || self.pairUse(i) > self.pairUse(ret) {
                ret = i
            }
        }
    }

    /* nothing found */
    if ret < 0 {
        return _NoReg, _NoReg, false
    }

    /* blocked by a fixed interval before the end */
    lo, hi := self.regs[ret], self.regs[ret + 1]
    return lo, hi, minInt(self.blockPos[lo], self.blockPos[hi]) <= end
}

// allocLockedReg takes the register whose next use is farthest away,
// spilling the intervals holding it. If the current interval is used before
// every other register is, the current interval is spilled instead.
func (self *_Walker) allocLockedReg(cur *Interval) error {
    var split bool
    var lo, hi = _NoReg, _NoReg

    /* collect the register usage */
    self.collectLocked(cur)
    needed := cur.From() + 1
    end := cur.To()

    /* find the register */
    switch {
        case !self.needsPair(cur) : lo, split = self.findLockedReg(needed, end, _NoReg)
        case self.aligned         : lo, hi, split = self.findLockedPair(needed, end)
        default                   : lo, hi, split = self.findLockedRegs(needed, end)
    }

    /* register usage and blocking positions */
    use, block := 0, 0
    if lo != _NoReg {
        use, block = self.usePos[lo], self.blockPos[lo]
        if hi != _NoReg {
            use = minInt(use, self.usePos[hi])
            block = minInt(block, self.blockPos[hi])
        }
    }

    /* the current interval is used before any register becomes available, spill it */
    if first := cur.firstUsage(U_must); lo == _NoReg || (self.needsPair(cur) && hi == _NoReg) || use <= first {
        if first <= cur.From() + 1 {
            return utils.EExhausted(self.ls.fn, cur.Id, cur.From(), "no register left for v%d, used right at its start", cur.value)
        } else {
            return self.splitAndSpillInterval(cur)
        }
    }

    /* assign the register, split if it becomes blocked before the end */
    cur.assignReg(lo, hi)
    if split {
        if err := self.splitWhenPartialRegisterAvailable(cur, block); err != nil {
            return err
        }
    }

    /* make room for the current interval */
    return self.splitAndSpillIntersecting(lo, hi)
}

func (self *_Walker) findLockedRegs(needed int, end int) (int, int, bool) {
    lo, s1 := self.findLockedReg(needed, end, _NoReg)
    if lo == _NoReg {
        return _NoReg, _NoReg, false
    }

    /* the second register */
    hi, s2 := self.findLockedReg(needed, end, lo)
    if hi == _NoReg {
        return lo, _NoReg, false
    }

    /* keep the pair ordered */
    if lo > hi {
        lo, hi = hi, lo
    }
    return lo, hi, s1 || s2
}

// remove takes a spill victim out of the walker lists.
func (self *_Walker) remove(it *Interval) {
    self.active = removeInterval(self.active, it)
    self.inactive = removeInterval(self.inactive, it)
}

func (self *_Walker) splitAndSpillIntersecting(lo int, hi int) error {
    var victims []*Interval
    var seen = make(map[*Interval]bool)

    /* collect the intervals holding the registers */
    for _, r := range [2]int { lo, hi } {
        if r != _NoReg {
            for _, it := range self.spillIvs[r] {
                if !seen[it] {
                    seen[it] = true
                    victims = append(victims, it)
                }
            }
        }
    }

    /* split and spill them */
    for _, it := range victims {
        self.remove(it)
        if err := self.splitAndSpillInterval(it); err != nil {
            return err
        }

        /* whatever is left of the victim is done */
        if err := self.ls.setState(it, I_handled); err != nil {
            return err
        }
    }
    return nil
}

func removeInterval(list []*Interval, it *Interval) []*Interval {
    for i, v := range list {
        if v == it {
            return append(list[:i], list[i + 1:]...)
        }
    }
    return list
}

// allocateRegisters runs one walker per register class.
func (self *LinearScan) allocateRegisters(ctx context.Context) error {
    tr := tlog.SpanFromContext(ctx)
    for _, c := range [...]ir.Class { ir.C_int, ir.C_float } {
        if w, err := newWalker(self, tr, c); err != nil {
            return err
        } else if err = w.walk(); err != nil {
            return err
        }
    }

    /* every value must have a location now */
    for _, it := range self.iv[self.nregs:] {
        if it != nil && len(it.Ranges) != 0 && !it.assigned() {
            return utils.EInternal(self.fn, "walk", "interval %s left unassigned", it)
        }
    }

    /* update the statistics */
    for _, it := range self.iv[self.nregs:] {
        if it == nil {
            continue
        }

        /* count split children and spilled values */
        if !it.IsSplitParent() {
            self.stats.Children++
        } else if self.hasStackPart(it) {
            self.stats.Spilled++
        }
    }

    /* log the result */
    tr.Printw("allocated registers", "func", self.fn.Name, "children", self.stats.Children, "spilled", self.stats.Spilled, "slots", self.nslots)
    return nil
}

func (self *LinearScan) hasStackPart(it *Interval) bool {
    if it.OnStack() {
        return true
    }
    for _, id := range it.Children {
        if self.iv[id].OnStack() {
            return true
        }
    }
    return false
}
