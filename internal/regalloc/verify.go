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
    `github.com/oleiade/lane`
    `tlog.app/go/tlog`
)

/** Interval Checks **/

// verifyNoOverlap checks that intervals sharing a register never intersect.
func (self *LinearScan) verifyNoOverlap() error {
    regs := make([][]*Interval, self.nregs)
    for _, it := range self.iv {
        if it == nil || it.temp || len(it.Ranges) == 0 || !it.HasRegister() {
            continue
        }

        /* both halves of a pair */
        regs[it.Reg] = append(regs[it.Reg], it)
        if it.Hi != _NoReg {
            regs[it.Hi] = append(regs[it.Hi], it)
        }
    }

    /* check every register */
    for r, ivs := range regs {
        for i := 0; i < len(ivs); i++ {
            for j := i + 1; j < len(ivs); j++ {
                if pos := intersectsAt(ivs[i].Ranges, ivs[j].Ranges); pos >= 0 {
                    return utils.EInternal(self.fn, "verify", "%s is assigned to overlapping intervals at %d: %s and %s", self.plat.RegName(r), pos, ivs[i], ivs[j])
                }
            }
        }
    }
    return nil
}

// mergeRanges sorts the ranges and joins the adjacent ones. It fails if any
// two of them overlap.
func mergeRanges(rr []Range) ([]Range, bool) {
    var ret []Range
    sort.Slice(rr, func(i int, j int) bool { return rr[i].From < rr[j].From })

    /* join the ranges */
    for _, r := range rr {
        if n := len(ret); n == 0 || ret[n - 1].To < r.From {
            ret = append(ret, r)
        } else if ret[n - 1].To == r.From {
            ret[n - 1].To = r.To
        } else {
            return nil, false
        }
    }
    return ret, true
}

// verifySplitChildren checks that the parts of every value exactly cover its
// lifetime, and that every part on the stack uses the canonical slot.
func (self *LinearScan) verifySplitChildren() error {
    for _, it := range self.iv[self.nregs:] {
        if it == nil || it.temp || !it.IsSplitParent() || len(it.original) == 0 {
            continue
        }

        /* collect the ranges of every part */
        rr := append([]Range(nil), it.Ranges...)
        for _, id := range it.Children {
            rr = append(rr, self.iv[id].Ranges...)
        }

        /* the parts must not overlap */
        ret, ok := mergeRanges(rr)
        if !ok {
            return utils.EInternal(self.fn, "verify", "split children of v%d overlap", it.value)
        }

        /* and cover the original ranges exactly */
        if len(ret) != len(it.original) {
            return utils.EInternal(self.fn, "verify", "split children of v%d do not cover %v: %v", it.value, it.original, ret)
        }
        for i, r := range ret {
            if r != it.original[i] {
                return utils.EInternal(self.fn, "verify", "split children of v%d do not cover %v: %v", it.value, it.original, ret)
            }
        }

        /* stack parts share one slot */
        for _, id := range append([]int { it.Id }, it.Children...) {
            if c := self.iv[id]; c.OnStack() && c.Slot != it.canonical {
                return utils.EInternal(self.fn, "verify", "%s is not in the canonical slot %d", c, it.canonical)
            }
        }
    }
    return nil
}

/** Data Flow Checks **/

// _Verifier tracks which value every location holds along all paths of the
// final code. A value is the virtual register an operand was colored from,
// or -1 when unknown.
type _Verifier struct {
    ls     *LinearScan
    nlocs  int
    states [][]int
    queued []bool
    queue  *lane.Queue
}

func newVerifier(ls *LinearScan) *_Verifier {
    return &_Verifier {
        ls     : ls,
        nlocs  : ls.nregs + ls.fn.ArgSlots + ls.nslots + 1,
        states : make([][]int, len(ls.blocks)),
        queued : make([]bool, len(ls.blocks)),
        queue  : lane.NewQueue(),
    }
}

// keys lists the state indices of a location operand.
func (self *_Verifier) keys(op ir.Operand) (ret [2]int) {
    ret = [2]int { -1, -1 }
    switch op.Kind {
        case ir.K_fixed: {
            ret[0] = op.Num
            if op.Pair {
                ret[1] = op.Hi
            }
        }
        case ir.K_stack: {
            ret[0] = self.ls.nregs + op.Num
            if op.Wide {
                ret[1] = ret[0] + 1
            }
        }
    }
    return
}

func (self *_Verifier) check(st []int, op ir.Operand, ins *ir.Instr) error {
    v, ok := op.Origin()
    if !ok {
        return nil
    }

    /* must be a concrete location */
    if !op.IsLocation() {
        return utils.EInternal(self.ls.fn, "verify", "operand %s was not colored: %s", op, ins)
    }

    /* every unit of the location must hold the value */
    if !self.holds(st, op, v) {
        return utils.EInternal(self.ls.fn, "verify", "%s does not hold v%d at %s", op.Format(self.ls.plat), v, ins.Format(self.ls.plat))
    } else {
        return nil
    }
}

// holds reports whether every unit of the location holds value v.
func (self *_Verifier) holds(st []int, op ir.Operand, v int) bool {
    for _, k := range self.keys(op) {
        if k >= 0 && (k >= self.nlocs || st[k] != v) {
            return false
        }
    }
    return true
}

func (self *_Verifier) define(st []int, op ir.Operand) {
    v, ok := op.Origin()
    if !ok {
        v = -1
    }

    /* update the location */
    for _, k := range self.keys(op) {
        if k >= 0 && k < self.nlocs {
            st[k] = v
        }
    }
}

func (self *_Verifier) kill(st []int, op ir.Operand) {
    for _, k := range self.keys(op) {
        if k >= 0 && k < self.nlocs {
            st[k] = -1
        }
    }
}

// merge joins a state into the entry state of a block, keeping only the
// values every path agrees on.
func (self *_Verifier) merge(i int, st []int) {
    changed := false
    if self.states[i] == nil {
        changed = true
        self.states[i] = append([]int(nil), st...)
    } else {
        for k, v := range self.states[i] {
            if v != -1 && v != st[k] {
                changed = true
                self.states[i][k] = -1
            }
        }
    }

    /* revisit the block if needed */
    if changed && !self.queued[i] {
        self.queued[i] = true
        self.queue.Enqueue(i)
    }
}

// step checks the reads of ins, then applies its writes.
func (self *_Verifier) step(st []int, ins *ir.Instr) error {
    for _, op := range ins.In {
        if err := self.check(st, op, ins); err != nil {
            return err
        }
    }

    /* debug info must point to the values */
    if ins.Info != nil {
        for _, op := range ins.Info.Locs {
            if err := self.check(st, op, ins); err != nil {
                return err
            }
        }
    }

    /* temps and calls destroy their registers */
    for _, op := range ins.Tmp {
        self.kill(st, op)
    }
    if ins.IsCall() {
        for _, r := range self.ls.plat.CallerSaved() {
            st[r] = -1
        }
    }

    /* exception edge, taken before the outputs are written */
    if ins.Exc != nil {
        if err := self.edge(st, ins); err != nil {
            return err
        }
    }

    /* outputs */
    for _, op := range ins.Out {
        self.define(st, op)
    }
    return nil
}

// edge runs the entry moves of an exception edge and passes the state on to the handler.
func (self *_Verifier) edge(st []int, ins *ir.Instr) error {
    es := append([]int(nil), st...)
    for _, op := range ins.Exc.Args {
        if err := self.check(es, op, ins); err != nil {
            return err
        }
    }

    /* entry moves */
    for _, mv := range ins.Exc.Moves {
        if err := self.step(es, mv); err != nil {
            return err
        }
    }

    /* Phi nodes whose argument is already in place need no move */
    for i, dst := range self.ls.phis[ins.Exc.Handler.Index] {
        if i < len(ins.Exc.Args) && dst.IsLocation() {
            if v, ok := ins.Exc.Args[i].Origin(); ok && self.holds(es, dst, v) {
                self.define(es, dst)
            }
        }
    }

    /* the handler gets the resulting state */
    self.merge(ins.Exc.Handler.Index, es)
    return nil
}

// verifyDataFlow checks that every read finds the value it names.
func (self *LinearScan) verifyDataFlow() error {
    vf := newVerifier(self)
    st := make([]int, vf.nlocs)

    /* nothing is known at the entry */
    for i := range st {
        st[i] = -1
    }

    /* propagate the states */
    vf.merge(0, st)
    for !vf.queue.Empty() {
        i := vf.queue.Dequeue().(int)
        vf.queued[i] = false

        /* run the block */
        bb := self.blocks[i].bb
        st = append(st[:0], vf.states[i]...)

        /* every instruction */
        for _, ins := range bb.Ins {
            if err := vf.step(st, ins); err != nil {
                return err
            }
        }

        /* pass the state on */
        for _, s := range bb.Succ {
            vf.merge(s.Index, st)
        }
    }
    return nil
}

// verify checks the allocation result.
func (self *LinearScan) verify(ctx context.Context) error {
    if err := self.verifyNoOverlap(); err != nil {
        return err
    }
    if err := self.verifySplitChildren(); err != nil {
        return err
    }
    if err := self.verifyDataFlow(); err != nil {
        return err
    }

    /* everything checks out */
    tlog.SpanFromContext(ctx).Printw("verified allocation", "func", self.fn.Name)
    return nil
}
