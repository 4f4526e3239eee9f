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
    `sort`

    `github.com/cloudwego/lsra/internal/utils`
    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/tlog`
)

// _Move is a single move between two intervals. A nil source means the
// move loads the constant in con.
type _Move struct {
    from *Interval
    con  ir.Operand
    to   *Interval
}

// MoveResolver orders a set of moves that logically happen at the same time,
// so that no location is overwritten before every move reading it is done.
// Cycles are broken by going through the spill slot of one of the values.
type MoveResolver struct {
    ls        *LinearScan
    pos       int
    multiRead bool
    mappings  []_Move
    blocked   map[int]int
}

func (self *LinearScan) newMoveResolver(pos int) *MoveResolver {
    return &MoveResolver {
        ls      : self,
        pos     : pos,
        blocked : make(map[int]int),
    }
}

// addPendingMove records a walker move, to be resolved once every interval
// has a location.
func (self *LinearScan) addPendingMove(pos int, from *Interval, to *Interval) {
    mr := self.pending[pos]
    if mr == nil {
        mr = self.newMoveResolver(pos)
        self.pending[pos] = mr
    }
    mr.add(from, to)
}

func (self *MoveResolver) empty() bool {
    return len(self.mappings) == 0
}

func (self *MoveResolver) add(from *Interval, to *Interval) {
    self.mappings = append(self.mappings, _Move { from: from, to: to })
}

func (self *MoveResolver) addConst(con ir.Operand, to *Interval) {
    self.mappings = append(self.mappings, _Move { con: con, to: to })
}

// keys lists the storage units an interval occupies. Registers are numbered
// as they are, stack slots come after the registers.
func (self *MoveResolver) keys(it *Interval) (ret [2]int) {
    ret = [2]int { -1, -1 }
    switch {
        case it.Slot >= 0: {
            ret[0] = self.ls.nregs + it.Slot
            if it.Wide {
                ret[1] = ret[0] + 1
            }
        }
        default: {
            ret[0] = it.Reg
            ret[1] = it.Hi
        }
    }
    return
}

func (self *MoveResolver) block(it *Interval, n int) {
    if it != nil {
        for _, k := range self.keys(it) {
            if k >= 0 {
                self.blocked[k] += n
            }
        }
    }
}

// safeToProcess reports whether writing to the destination does not destroy
// a value that another pending move still has to read.
func (self *MoveResolver) safeToProcess(m _Move) bool {
    var src [2]int
    if m.from != nil {
        src = self.keys(m.from)
    } else {
        src = [2]int { -1, -1 }
    }

    /* check every destination unit */
    for _, k := range self.keys(m.to) {
        if k < 0 {
            continue
        }

        /* a unit read only by this move itself is fine */
        switch n := self.blocked[k]; {
            case n > 1                             : return false
            case n == 1 && k != src[0] && k != src[1] : return false
        }
    }
    return true
}

// check validates the mappings before resolving them.
func (self *MoveResolver) check() error {
    dst := make(map[int]bool)
    src := make(map[int]bool)

    /* check every mapping */
    for _, m := range self.mappings {
        if m.to == nil || !m.to.assigned() {
            return utils.EInternal(self.ls.fn, "moves", "move to an unassigned interval at %d", self.pos)
        }
        if m.from != nil && !m.from.assigned() {
            return utils.EInternal(self.ls.fn, "moves", "move from an unassigned interval at %d", self.pos)
        }

        /* destinations must be distinct */
        for _, k := range self.keys(m.to) {
            if k >= 0 {
                if dst[k] {
                    return utils.EInternal(self.ls.fn, "moves", "location written twice at %d: %s", self.pos, m.to)
                }
                dst[k] = true
            }
        }

        /* sources too, unless reading twice is allowed */
        if m.from != nil && !self.multiRead {
            for _, k := range self.keys(m.from) {
                if k >= 0 {
                    if src[k] {
                        return utils.EInternal(self.ls.fn, "moves", "location read twice at %d: %s", self.pos, m.from)
                    }
                    src[k] = true
                }
            }
        }
    }
    return nil
}

// resolve returns the moves in a safe sequential order.
func (self *MoveResolver) resolve() ([]_Move, error) {
    var ret []_Move
    var buf []_Move

    /* moves between the same location are no-ops */
    for _, m := range self.mappings {
        if m.from == nil || !m.from.sameLocation(m.to) {
            buf = append(buf, m)
        }
    }

    /* validate the remaining mappings */
    self.mappings = buf
    if err := self.check(); err != nil {
        return nil, err
    }

    /* block every source location */
    for _, m := range self.mappings {
        self.block(m.from, 1)
    }

    /* every round either emits a move or breaks a cycle */
    for round, limit := 0, 2 * len(self.mappings) + 1; len(self.mappings) != 0; round++ {
        if round >= limit {
            return nil, utils.EInternal(self.ls.fn, "moves", "move resolution does not converge at %d", self.pos)
        }

        /* emit every move whose destination is safe to write */
        done := false
        spill := -1
        for i := len(self.mappings) - 1; i >= 0; i-- {
            m := self.mappings[i]
            if self.safeToProcess(m) {
                done = true
                ret = append(ret, m)
                self.block(m.from, -1)
                self.mappings = append(self.mappings[:i], self.mappings[i + 1:]...)
            } else if m.from != nil && m.from.HasRegister() {
                spill = i
            }
        }

        /* progress made */
        if done {
            continue
        }

        /* a cycle of registers, route one of them through memory */
        if spill < 0 {
            return nil, utils.EInternal(self.ls.fn, "moves", "move cycle without any register at %d", self.pos)
        }

        /* break the cycle */
        mv, err := self.breakCycle(spill)
        if err != nil {
            return nil, err
        }

        /* save the register first */
        ret = append(ret, mv)
    }
    return ret, nil
}

// breakCycle stores the source of one mapping into the spill slot of its
// value, and makes the mapping read from the slot instead.
func (self *MoveResolver) breakCycle(i int) (_Move, error) {
    from := self.mappings[i].from
    parent := self.ls.parentOf(from)

    /* the temporary interval holding the value */
    tmp, err := self.ls.newSpillTemp(from, self.pos)
    if err != nil {
        return _Move{}, err
    }

    /* use the canonical slot of the value, so no stack-to-stack moves are needed */
    if parent.canonical < 0 {
        if slot, err := self.ls.allocateSpillSlot(from, self.pos); err != nil {
            return _Move{}, err
        } else {
            parent.canonical = slot
        }
    }

    /* redirect the mapping */
    tmp.assignSlot(parent.canonical)
    self.block(from, -1)
    self.block(tmp, 1)
    self.mappings[i].from = tmp
    return _Move { from: from, to: tmp }, nil
}

// newSpillTemp creates a standalone interval that carries a value through
// memory inside a parallel move. Its range is a placeholder, it is never
// checked against other intervals.
func (self *LinearScan) newSpillTemp(from *Interval, pos int) (*Interval, error) {
    v := self.fn.NumVirtual
    if !self.opts.CanNumber(v) {
        return nil, utils.EExhausted(self.fn, from.Id, pos, "out of virtual register numbers while resolving moves")
    }

    /* create the interval */
    ret := newInterval(self.nregs + v, from.Class, from.Wide)
    ret.Ranges = []Range { { 1, 2 } }
    ret.value = from.value
    ret.temp = true

    /* register in the arena */
    self.fn.NumVirtual++
    self.iv = append(self.iv, ret)
    return ret, self.setState(ret, I_handled)
}

// resolveSplitMoves orders the moves the walker inserted between the parts
// of split intervals.
func (self *LinearScan) resolveSplitMoves(ctx context.Context) error {
    var nb int
    var ids []int

    /* process in position order */
    for pos := range self.pending {
        ids = append(ids, pos)
    }

    /* resolve every batch */
    sort.Ints(ids)
    for _, pos := range ids {
        mv, err := self.pending[pos].resolve()
        if err != nil {
            return err
        }
        nb += len(mv)
        self.before[pos] = mv
    }

    /* log the moves */
    tlog.SpanFromContext(ctx).Printw("split moves", "func", self.fn.Name, "positions", len(ids), "moves", nb)
    return nil
}
