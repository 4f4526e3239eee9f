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
    `tlog.app/go/tlog`
)

// number assigns the instruction ids. Every block starts with a label
// position that holds no instruction, so values live into a block have a
// position to start at before its first instruction.
func (self *LinearScan) number(ctx context.Context) error {
    pos := 0
    self.ops = self.ops[:0]
    self.opbb = self.opbb[:0]
    self.blocks = make([]_Block, len(self.fn.Order))

    /* must have a block order */
    if len(self.fn.Order) == 0 {
        return utils.EInternal(self.fn, "numbering", "function has no block order")
    }

    /* number every block in the linear order */
    for i, bb := range self.fn.Order {
        if bb.Index != i {
            return utils.EInternal(self.fn, "numbering", "block order out of sync at bb_%d", bb.Id)
        }

        /* the label position */
        self.ops = append(self.ops, nil)
        self.opbb = append(self.opbb, i)
        self.blocks[i] = _Block { bb: bb, first: pos }
        pos += 2

        /* the instructions */
        for _, ins := range bb.Ins {
            ins.Id = pos
            self.ops = append(self.ops, ins)
            self.opbb = append(self.opbb, i)
            pos += 2
        }

        /* the terminator */
        self.blocks[i].last = pos - 2
    }

    /* the last valid position */
    self.maxId = pos - 2
    tlog.SpanFromContext(ctx).Printw("numbered instructions", "func", self.fn.Name, "blocks", len(self.blocks), "max_id", self.maxId)
    return nil
}

// blockOf returns the block containing the position.
func (self *LinearScan) blockOf(pos int) *_Block {
    i := pos >> 1
    n := len(self.opbb)

    /* clamp to the valid range */
    if i < 0 {
        i = 0
    } else if i >= n {
        i = n - 1
    }

    /* find the block */
    return &self.blocks[self.opbb[i]]
}

// isBlockBegin reports whether the position is the label of a block. The
// position right after the last block also counts as a boundary.
func (self *LinearScan) isBlockBegin(pos int) bool {
    if pos & 1 != 0 {
        return false
    } else if pos > self.maxId {
        return true
    } else {
        return pos >= 0 && self.ops[pos >> 1] == nil
    }
}

func (self *LinearScan) hasCall(pos int) bool {
    if pos & 1 != 0 || pos < 0 || pos > self.maxId {
        return false
    } else {
        ins := self.ops[pos >> 1]
        return ins != nil && ins.IsCall()
    }
}

func (self *LinearScan) checkOperand(bb *ir.Block, op ir.Operand) error {
    switch op.Kind {
        case ir.K_virtual: {
            if op.Num < 0 || op.Num >= self.fn.NumVirtual {
                return utils.EMalformed(self.fn, bb, "virtual register v%d out of range", op.Num)
            }

            /* the first occurence declares the register */
            if d := &self.decl[op.Num]; d.IsIllegal() {
                *d = op
            } else if d.Class != op.Class || d.Wide != op.Wide {
                return utils.EMalformed(self.fn, bb, "v%d used as %s, declared as %s", op.Num, op, *d)
            }
        }

        /* physical registers */
        case ir.K_fixed: {
            if op.Num < 0 || op.Num >= self.nregs || (op.Pair && (op.Hi < 0 || op.Hi >= self.nregs)) {
                return utils.EMalformed(self.fn, bb, "invalid physical register %d", op.Num)
            }
        }

        /* incoming arguments are the only stack operands */
        case ir.K_stack: {
            if op.Num < 0 || op.Num >= self.fn.ArgSlots {
                return utils.EMalformed(self.fn, bb, "stack operand %s outside the argument area", op)
            }
        }

        /* variables can not survive SSA construction */
        case ir.K_var: {
            return utils.EInternal(self.fn, "liveness", "variable %s left in bb_%d", op, bb.Id)
        }
    }
    return nil
}

// computeLocalLiveSets computes the gen and kill sets of every block. Handler
// Phi nodes are defined at the handler label, then for every instruction the
// info values and exception arguments are used, then the inputs, then the
// temps and outputs are killed.
func (self *LinearScan) computeLocalLiveSets(ctx context.Context) error {
    var err error
    var bb  *ir.Block
    var gen ir.RegSet
    var kill ir.RegSet

    /* reset the per-register tables */
    nv := self.fn.NumVirtual
    self.decl = make([]ir.Operand, nv)
    self.ndefs = make([]int, nv)
    self.inLoop = make(map[int]ir.RegSet)

    /* remember the registers referenced inside each loop */
    mark := func(v int) {
        if bb.Loop >= 0 {
            rs := self.inLoop[bb.Loop]
            rs.Add(v)
            self.inLoop[bb.Loop] = rs
        }
    }

    /* a use is part of gen unless killed before */
    use := func(op ir.Operand) {
        if err == nil {
            if err = self.checkOperand(bb, op); err == nil && op.IsVirtual() {
                mark(op.Num)
                if !kill.Has(op.Num) {
                    gen.Add(op.Num)
                }
            }
        }
    }

    /* a definition kills the register */
    def := func(op ir.Operand, count bool) {
        if err == nil && op.IsStack() {
            err = utils.EMalformed(self.fn, bb, "stack operand %s can not be written", op)
        }
        if err == nil {
            if err = self.checkOperand(bb, op); err == nil && op.IsVirtual() {
                mark(op.Num)
                kill.Add(op.Num)
                if count {
                    self.ndefs[op.Num]++
                }
            }
        }
    }

    /* scan every block */
    for i := range self.blocks {
        bb = self.blocks[i].bb
        gen = ir.NewRegSet(nv)
        kill = ir.NewRegSet(nv)

        /* only handlers keep their Phi nodes */
        if len(bb.Phi) != 0 && !bb.Handler {
            return utils.EInternal(self.fn, "liveness", "Phi nodes left in ordinary block bb_%d", bb.Id)
        }

        /* handler Phi nodes are defined by the exception edges */
        for _, phi := range bb.Phi {
            def(phi.Dst, true)
        }

        /* scan the instructions */
        for _, ins := range bb.Ins {
            if ins.Info != nil {
                for _, v := range ins.Info.Values {
                    use(v)
                }
            }

            /* exception arguments are read at the throwing instruction */
            if ins.Exc != nil {
                for _, v := range ins.Exc.Args {
                    use(v)
                }
            }

            /* inputs, then temps, then outputs */
            for _, v := range ins.In  { use(v) }
            for _, v := range ins.Tmp { def(v, false) }
            for _, v := range ins.Out { def(v, true) }
        }

        /* check for errors */
        if err != nil {
            return err
        }

        /* save the local sets */
        bb.Gen = gen
        bb.Kill = kill
    }
    return nil
}

// computeGlobalLiveSets iterates the backward dataflow equations to a fixed
// point. Exception handlers count as successors of every block that throws
// to them.
func (self *LinearScan) computeGlobalLiveSets(ctx context.Context) error {
    nv := self.fn.NumVirtual
    tr := tlog.SpanFromContext(ctx)

    /* initial state */
    for _, b := range self.blocks {
        b.bb.LiveIn = b.bb.Gen.Clone()
        b.bb.LiveOut = ir.NewRegSet(nv)
    }

    /* iterate until nothing changes */
    for round := 1;; round++ {
        changed := false

        /* the equations can not diverge on a well-formed CFG */
        if round > self.opts.MaxLivenessIterations {
            return utils.EInternal(self.fn, "liveness", "no fixed point after %d iterations", self.opts.MaxLivenessIterations)
        }

        /* reverse block order */
        for i := len(self.blocks) - 1; i >= 0; i-- {
            bb := self.blocks[i].bb
            out := ir.NewRegSet(nv)

            /* live_out = union of live_in of every successor */
            for _, s := range bb.Succ     { out.Union(s.LiveIn) }
            for _, h := range bb.Handlers() { out.Union(h.LiveIn) }

            /* live_in = gen + (live_out - kill) */
            in := out.Clone()
            in.Subtract(bb.Kill)
            in.Union(bb.Gen)

            /* values read by handlers before being defined locally */
            if len(bb.Handlers()) != 0 {
                in.Union(self.liveAtThrows(bb))
            }

            /* check for changes */
            bb.LiveOut = out
            if !in.Equal(bb.LiveIn) {
                changed = true
                bb.LiveIn = in
            }
        }

        /* fixed point reached */
        if !changed {
            tr.Printw("liveness", "func", self.fn.Name, "rounds", round)
            break
        }
    }

    /* nothing can be live at the function entry */
    if live := self.fn.Entry().LiveIn; !live.Empty() {
        return utils.EMalformed(self.fn, self.fn.Entry(), "registers used before definition: %s", live)
    }
    return nil
}

// liveAtThrows returns the handler live-in values that are not defined in
// the block before the instruction that throws to the handler.
func (self *LinearScan) liveAtThrows(bb *ir.Block) ir.RegSet {
    live := ir.NewRegSet(self.fn.NumVirtual)
    kill := func(ops []ir.Operand) {
        for _, op := range ops {
            if op.IsVirtual() {
                live.Remove(op.Num)
            }
        }
    }

    /* scan backwards */
    for i := len(bb.Ins) - 1; i >= 0; i-- {
        ins := bb.Ins[i]
        kill(ins.Out)
        kill(ins.Tmp)

        /* the handler sees the state before the outputs are written */
        if ins.Exc != nil {
            live.Union(ins.Exc.Handler.LiveIn)
        }
    }

    /* handler Phi nodes are defined on entry */
    for _, phi := range bb.Phi {
        if phi.Dst.IsVirtual() {
            live.Remove(phi.Dst.Num)
        }
    }
    return live
}

func (self *LinearScan) computeLiveness(ctx context.Context) error {
    if err := self.computeLocalLiveSets(ctx); err != nil {
        return err
    } else {
        return self.computeGlobalLiveSets(ctx)
    }
}
