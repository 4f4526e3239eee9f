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

package ssa

import (
    `github.com/cloudwego/lsra/internal/utils`
    `github.com/cloudwego/lsra/ir`
)

type _Renamer struct {
    cfg   *CFG
    stack [][]ir.Operand
    lazy  map[int]int
}

func newRenamer(cfg *CFG) *_Renamer {
    return &_Renamer {
        cfg   : cfg,
        stack : make([][]ir.Operand, len(cfg.Vars)),
        lazy  : make(map[int]int),
    }
}

func (self *_Renamer) popr(v int) {
    if n := len(self.stack[v]); n != 0 {
        self.stack[v] = self.stack[v][:n - 1]
    }
}

func (self *_Renamer) topr(v int) (ir.Operand, bool) {
    if n := len(self.stack[v]); n == 0 {
        return ir.Undef, false
    } else {
        return self.stack[v][n - 1], true
    }
}

func (self *_Renamer) pushr(v int) ir.Operand {
    r := self.cfg.NewVirtual(self.cfg.Vars[v].Class)
    r.Wide = self.cfg.Vars[v].Wide
    self.stack[v] = append(self.stack[v], r)
    return r
}

func (self *_Renamer) renameuse(bb *ir.Block, op *ir.Operand) error {
    if !op.IsVar() {
        return nil
    }

    /* check the declaration */
    if err := checkVar(self.cfg.Func, bb, *op); err != nil {
        return err
    }

    /* must have a dominating definition */
    if r, ok := self.topr(op.Num); ok {
        *op = r
        return nil
    } else {
        return utils.EMalformed(self.cfg.Func, bb, "read of %s (%s) with no dominating definition", self.cfg.Vars[op.Num].Name, *op)
    }
}

func (self *_Renamer) renamedef(bb *ir.Block, op *ir.Operand, buf *[]int) error {
    if !op.IsVar() {
        return nil
    }

    /* check the declaration */
    if err := checkVar(self.cfg.Func, bb, *op); err != nil {
        return err
    }

    /* create a new name */
    *buf = append(*buf, op.Num)
    *op = self.pushr(op.Num)
    return nil
}

// renamearg binds a Phi argument, an undefined value is fine as long as the Phi is dead.
func (self *_Renamer) renamearg(op *ir.Operand) {
    if op.IsVar() {
        *op, _ = self.topr(op.Num)
    }
}

func (self *_Renamer) renametmp(bb *ir.Block, op *ir.Operand) error {
    if !op.IsVar() {
        return nil
    }

    /* temporaries never carry a value, give them a private name */
    if err := checkVar(self.cfg.Func, bb, *op); err != nil {
        return err
    } else {
        *op = self.cfg.NewVirtual(op.Class)
        return nil
    }
}

func (self *_Renamer) renameins(bb *ir.Block, ins *ir.Instr, d *[]int) error {
    var err error

    /* exception edges see the values right before the instruction */
    if ins.Exc != nil {
        for i := range ins.Exc.Args {
            self.renamearg(&ins.Exc.Args[i])
        }
    }

    /* debug info reads its values */
    if ins.Info != nil {
        for i := range ins.Info.Values {
            if err = self.renameuse(bb, &ins.Info.Values[i]); err != nil {
                return err
            }
        }
    }

    /* inputs, then temporaries, then outputs */
    for i := range ins.In {
        if err = self.renameuse(bb, &ins.In[i]); err != nil {
            return err
        }
    }
    for i := range ins.Tmp {
        if err = self.renametmp(bb, &ins.Tmp[i]); err != nil {
            return err
        }
    }
    for i := range ins.Out {
        if err = self.renamedef(bb, &ins.Out[i], d); err != nil {
            return err
        }
    }
    return nil
}

func (self *_Renamer) renameblock(bb *ir.Block) error {
    var d []int
    var err error

    /* rename Phi nodes */
    for _, phi := range bb.Phi {
        if err = self.renamedef(bb, &phi.Dst, &d); err != nil {
            return err
        }
    }

    /* rename body */
    for _, ins := range bb.Ins {
        if err = self.renameins(bb, ins, &d); err != nil {
            return err
        }
    }

    /* rename all the Phi node of it's successors, once for every edge */
    for i, s := range bb.Succ {
        if blockIndex(bb.Succ[:i], s) >= 0 {
            continue
        }

        /* a block may appear more than once in the predecessor list */
        for j, p := range s.Pred {
            if p == bb {
                for _, phi := range s.Phi {
                    self.renamearg(&phi.In[j])
                }
            }
        }
    }

    /* rename all it's children in the dominator tree */
    for _, p := range self.cfg.DominatorOf[bb.Id] {
        if err = self.renameblock(p); err != nil {
            return err
        }
    }

    /* pop the definitions */
    for _, s := range d {
        self.popr(s)
    }
    return nil
}

func (self *_Renamer) entry() []*ir.Instr {
    var ret []*ir.Instr
    pv := make(map[int]ir.Operand, len(self.cfg.Params))

    /* parameter locations */
    for _, p := range self.cfg.Params {
        pv[p.Var] = p.Loc
    }

    /* params are moved out of their incoming locations */
    for v := range self.cfg.Vars {
        if !implicitlyDefined(self.cfg.Func, v) {
            continue
        }

        /* locals and the return slot are zero-initialized on demand */
        r := self.pushr(v)
        loc, ok := pv[v]

        /* materialize the parameter */
        if !ok {
            self.lazy[r.Num] = v
        } else {
            ret = append(ret, &ir.Instr { Op: ir.OP_move, In: []ir.Operand { loc }, Out: []ir.Operand { r } })
        }
    }
    return ret
}

func blockIndex(bbs []*ir.Block, bb *ir.Block) int {
    for i, v := range bbs {
        if v == bb {
            return i
        }
    }
    return -1
}

func renameVariables(cfg *CFG) (map[int]int, error) {
    rr := newRenamer(cfg)
    bb := cfg.Entry()

    /* every block must be part of the dominator tree */
    for _, p := range cfg.Blocks {
        if err := cfg.Check("SSA Construction", p); err != nil {
            return nil, err
        }
    }

    /* implicit definitions in the entry block */
    args := rr.entry()
    if err := rr.renameblock(bb); err != nil {
        return nil, err
    }

    /* parameter moves go right at the top of the entry block */
    bb.Ins = append(args, bb.Ins...)
    return rr.lazy, nil
}
