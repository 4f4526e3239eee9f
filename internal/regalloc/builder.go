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

    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/tlog`
)

// resultRegs picks the registers a call writes its virtual outputs to. Only
// caller-saved registers not named by the call itself are candidates, since
// those are the ones free right after the call.
func (self *LinearScan) resultRegs(ins *ir.Instr) []ir.Operand {
    used := make(map[int]bool)
    ret := make([]ir.Operand, len(ins.Out))

    /* registers already named by the call */
    ins.Visit(func(op *ir.Operand, _ ir.Mode) {
        if op.IsFixed() {
            used[op.Num] = true
            if op.Pair {
                used[op.Hi] = true
            }
        }
    })

    /* one register or pair per virtual output */
    for i, op := range ins.Out {
        if !op.IsVirtual() {
            continue
        }

        /* free caller-saved registers of the class, in allocation order */
        var regs []int
        for _, r := range self.plat.Allocatable(op.Class) {
            if self.plat.Regs[r].CallerSaved && !used[r] {
                regs = append(regs, r)
            } else {
                regs = append(regs, _NoReg)
            }
        }

        /* pick the register */
        if !self.plat.NeedsPair(op.Class, op.Wide) {
            for _, r := range regs {
                if r != _NoReg {
                    used[r] = true
                    ret[i] = ir.Fixed(r, op.Class)
                    ret[i].Wide = op.Wide
                    break
                }
            }
            continue
        }

        /* pairs are adjacent, aligned ones start at an even index */
        for j := 0; j + 1 < len(regs); j++ {
            if regs[j] == _NoReg || regs[j + 1] == _NoReg || (self.plat.PairAligned && j & 1 != 0) {
                continue
            }
            used[regs[j]] = true
            used[regs[j + 1]] = true
            ret[i] = ir.FixedPair(regs[j], regs[j + 1], op.Class)
            break
        }
    }
    return ret
}

// lowerCallResults makes every call write its virtual outputs to physical
// registers, copying them to the virtual registers right after the call.
// Calls destroy the caller-saved registers at their own position, so a
// value defined there could never live in one of them.
func (self *LinearScan) lowerCallResults(ctx context.Context) error {
    var nb int
    for _, bb := range self.fn.Order {
        ins := make([]*ir.Instr, 0, len(bb.Ins))

        /* find the calls */
        for _, v := range bb.Ins {
            ins = append(ins, v)
            if !v.IsCall() {
                continue
            }

            /* copy every output that got a register */
            for i, reg := range self.resultRegs(v) {
                if reg.IsFixed() {
                    nb++
                    ins = append(ins, &ir.Instr { Op: ir.OP_move, In: []ir.Operand { reg }, Out: []ir.Operand { v.Out[i] } })
                    v.Out[i] = reg
                }
            }
        }

        /* update the block */
        bb.Ins = ins
    }

    /* log the result */
    tlog.SpanFromContext(ctx).Printw("lowered call results", "func", self.fn.Name, "count", nb)
    return nil
}

// virtual returns the split parent of a virtual register, creating it on first sight.
func (self *LinearScan) virtual(v int) *Interval {
    id := self.nregs + v
    it := self.iv[id]

    /* already created */
    if it != nil {
        return it
    }

    /* create a new interval as declared */
    d := self.decl[v]
    it = newInterval(id, d.Class, d.Wide)
    it.value = v
    self.iv[id] = it
    return it
}

// intervalsOf calls fn for every interval the operand refers to. Reserved
// registers have no interval and are skipped.
func (self *LinearScan) intervalsOf(op ir.Operand, fn func(it *Interval)) {
    switch op.Kind {
        case ir.K_virtual: {
            fn(self.virtual(op.Num))
        }

        /* register pairs occupy two fixed intervals */
        case ir.K_fixed: {
            if it := self.iv[op.Num]; it != nil {
                fn(it)
            }
            if op.Pair {
                if it := self.iv[op.Hi]; it != nil {
                    fn(it)
                }
            }
        }
    }
}

func (self *LinearScan) addUse(op ir.Operand, from int, to int, kind UseKind) {
    self.intervalsOf(op, func(it *Interval) {
        it.addRange(from, to)
        it.addUsePos(to, kind)
    })
}

func (self *LinearScan) addTemp(op ir.Operand, pos int, kind UseKind) {
    self.intervalsOf(op, func(it *Interval) {
        it.addRange(pos, pos + 1)
        it.addUsePos(pos, kind)
    })
}

// addDef shortens the first range to start at the definition. A definition
// that is never used still occupies its own position.
func (self *LinearScan) addDef(op ir.Operand, pos int, kind UseKind, inMemory bool) {
    self.intervalsOf(op, func(it *Interval) {
        if n := len(it.Ranges); n != 0 && it.Ranges[n - 1].From <= pos {
            it.Ranges[n - 1].From = pos
        } else {
            it.addRange(pos, pos + 1)
        }

        /* record the use and the definition position */
        it.addUsePos(pos, kind)
        if !it.Fixed {
            self.changeSpillDefinitionPos(it, pos)
            if inMemory && it.spillState <= S_startInMemory {
                it.spillState = S_startInMemory
            }
        }
    })
}

// isArgumentLoad reports whether ins is the only definition of a virtual
// register, loading it from an incoming stack argument.
func (self *LinearScan) isArgumentLoad(ins *ir.Instr) bool {
    if !ins.IsMove() {
        return false
    } else {
        src, dst := ins.In[0], ins.Out[0]
        return src.IsStack() && src.Num < self.fn.ArgSlots && dst.IsVirtual() && self.ndefs[dst.Num] == 1
    }
}

// handleArgumentLoad lets the register start in the slot of the incoming
// argument, which becomes its canonical spill slot.
func (self *LinearScan) handleArgumentLoad(ins *ir.Instr) {
    if self.isArgumentLoad(ins) {
        it := self.virtual(ins.Out[0].Num)
        it.canonical = ins.In[0].Num
        it.assignSlot(ins.In[0].Num)
    }
}

func (self *LinearScan) outputKind(ins *ir.Instr) (UseKind, bool) {
    if ins.IsMove() && ins.In[0].IsStack() {
        return U_none, self.isArgumentLoad(ins)
    } else {
        return U_must, false
    }
}

func (self *LinearScan) inputKind(ins *ir.Instr) UseKind {
    if ins.IsMove() {
        return U_should
    } else {
        return U_must
    }
}

// addRegisterHints makes the destination of a register move prefer the
// register of its source, and a virtual source prefer a fixed destination.
func (self *LinearScan) addRegisterHints(ins *ir.Instr) {
    if !ins.IsMove() {
        return
    }

    /* only single registers of the same class */
    src, dst := ins.In[0], ins.Out[0]
    if !src.IsRegister() || !dst.IsRegister() || src.Pair || dst.Pair || src.Class != dst.Class {
        return
    }

    /* find the intervals */
    var from, to *Interval
    self.intervalsOf(src, func(it *Interval) { from = it })
    self.intervalsOf(dst, func(it *Interval) { to = it })

    /* reserved registers have no intervals */
    if from == nil || to == nil {
        return
    }

    /* link the intervals */
    if !to.Fixed {
        to.Hint = from.Id
    } else if !from.Fixed && from.Hint < 0 {
        from.Hint = to.Id
    }
}

// buildIntervals walks the blocks and the instructions backwards, creating
// the ranges and use positions of every interval.
func (self *LinearScan) buildIntervals(ctx context.Context) error {
    var clobber []int
    self.iv = make([]*Interval, self.nregs + self.fn.NumVirtual)

    /* one fixed interval per allocatable register */
    for r, ri := range self.plat.Regs {
        if !ri.Reserved {
            it := newInterval(r, ri.Class, false)
            it.Fixed = true
            it.Reg = r
            it.value = -1
            self.iv[r] = it
        }
    }

    /* registers destroyed by calls */
    for _, r := range self.plat.CallerSaved() {
        if !self.plat.Regs[r].Reserved {
            clobber = append(clobber, r)
        }
    }

    /* iterate blocks in reverse order */
    for i := len(self.blocks) - 1; i >= 0; i-- {
        b := &self.blocks[i]
        bb := b.bb

        /* values used inside the loop are worth reloading at its end */
        var loop ir.RegSet
        if bb.LoopEnd && bb.Loop >= 0 {
            loop = self.inLoop[bb.Loop]
        }

        /* live-out values live through the whole block */
        bb.LiveOut.ForEach(func(v int) {
            it := self.virtual(v)
            it.addRange(b.first, b.last + 2)
            if loop.Has(v) {
                it.addUsePos(b.last + 1, U_loopEnd)
            }
        })

        /* iterate instructions in reverse order */
        for j := len(bb.Ins) - 1; j >= 0; j-- {
            ins := bb.Ins[j]
            pos := ins.Id

            /* parameters start in their incoming slots */
            self.handleArgumentLoad(ins)

            /* outputs */
            for _, op := range ins.Out {
                kind, mem := self.outputKind(ins)
                self.addDef(op, pos, kind, mem)
            }

            /* temps, calls destroy every caller-saved register */
            for _, op := range ins.Tmp {
                self.addTemp(op, pos, U_must)
            }
            if ins.IsCall() {
                for _, r := range clobber {
                    self.iv[r].addRange(pos, pos + 1)
                }
            }

            /* inputs */
            for _, op := range ins.In {
                self.addUse(op, b.first, pos, self.inputKind(ins))
            }

            /* debug info may live anywhere, but must survive the instruction */
            if ins.Info != nil {
                for _, op := range ins.Info.Values {
                    self.addUse(op, b.first, pos + 1, U_none)
                }
            }

            /* exception edges read their arguments and everything the handler needs */
            if ins.Exc != nil {
                for _, op := range ins.Exc.Args {
                    self.addUse(op, b.first, pos + 1, U_none)
                }
                ins.Exc.Handler.LiveIn.ForEach(func(v int) {
                    self.addUse(ir.Virtual(v, self.decl[v].Class), b.first, pos + 1, U_none)
                })
            }

            /* move hints */
            self.addRegisterHints(ins)
        }

        /* handler Phi nodes are defined on entry */
        for _, phi := range bb.Phi {
            self.addDef(phi.Dst, b.first, U_none, false)
        }
    }

    /* every fixed interval starts at the entry, so they are activated first */
    for r := 0; r < self.nregs; r++ {
        if it := self.iv[r]; it != nil {
            it.addRange(0, 1)
        }
    }

    /* ranges were built in reverse */
    for _, it := range self.iv {
        if it != nil {
            it.finish()
            if !it.Fixed {
                self.stats.Intervals++
            }
        }
    }

    tlog.SpanFromContext(ctx).Printw("built intervals", "func", self.fn.Name, "count", self.stats.Intervals)
    return nil
}
