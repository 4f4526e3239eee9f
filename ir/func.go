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

package ir

import (
    `fmt`
    `strings`
)

type VarKind uint8

const (
    V_temp VarKind = iota
    V_local
    V_return
    V_param
)

// Var is a pre-SSA variable. Locals and the return slot are implicitly
// assigned in the entry block, temps must be written before they are read.
type Var struct {
    Name  string
    Kind  VarKind
    Class Class
    Wide  bool
}

// Param binds a variable to the location the caller passes it in.
type Param struct {
    Var int
    Loc Operand
}

// Func is one compilation unit. Blocks[0] is the entry block.
type Func struct {
    Name       string
    Blocks     []*Block
    Vars       []Var
    Params     []Param
    NumVirtual int
    ArgSlots   int
    Order      []*Block
    Frame      int
}

func NewFunc(name string) *Func {
    ret := &Func { Name: name }
    ret.NewBlock()
    return ret
}

func (self *Func) Entry() *Block {
    return self.Blocks[0]
}

// MaxBlock returns one past the largest block id.
func (self *Func) MaxBlock() (ret int) {
    for _, bb := range self.Blocks {
        if bb.Id >= ret {
            ret = bb.Id + 1
        }
    }
    return
}

func (self *Func) NewBlock() *Block {
    bb := &Block { Id: self.MaxBlock(), Loop: -1 }
    self.Blocks = append(self.Blocks, bb)
    return bb
}

// NewVirtual allocates a fresh virtual register.
func (self *Func) NewVirtual(c Class) Operand {
    n := self.NumVirtual
    self.NumVirtual++
    return Virtual(n, c)
}

// NewVar declares a variable and returns an operand referring to it.
func (self *Func) NewVar(name string, kind VarKind, c Class) Operand {
    self.Vars = append(self.Vars, Var { Name: name, Kind: kind, Class: c })
    return VarOperand(len(self.Vars) - 1, c)
}

// NewWideVar declares a double-width variable.
func (self *Func) NewWideVar(name string, kind VarKind, c Class) Operand {
    self.Vars = append(self.Vars, Var { Name: name, Kind: kind, Class: c, Wide: true })
    return VarOperand(len(self.Vars) - 1, c).AsWide()
}

// NewParam declares a parameter passed in `loc`.
func (self *Func) NewParam(name string, loc Operand) Operand {
    v := self.NewVar(name, V_param, loc.Class)
    self.Params = append(self.Params, Param { Var: v.Num, Loc: loc })

    /* the variable is as wide as its location */
    if loc.Wide {
        v.Wide = true
        self.Vars[v.Num].Wide = true
    }

    /* incoming stack arguments are part of the caller's frame */
    if loc.IsStack() {
        if n := loc.Num + slotWidth(loc.Wide); n > self.ArgSlots {
            self.ArgSlots = n
        }
    }
    return v
}

// Throws attaches an exception edge from `ins` in `bb` to `handler`.
func (self *Func) Throws(bb *Block, ins *Instr, handler *Block) {
    handler.Handler = true
    ins.Exc = &ExcEdge { Handler: handler }

    /* the throwing block becomes a predecessor of the handler */
    if handler.PredIndex(bb) < 0 {
        handler.Pred = append(handler.Pred, bb)
    }
}

func (self *Func) String() string {
    return self.Format(nil)
}

// Format dumps the function in block order, naming registers after p.
func (self *Func) Format(p *Platform) string {
    bbs := self.Order
    buf := []string { fmt.Sprintf("func %s:", self.Name) }

    /* use the linear order if available */
    if bbs == nil {
        bbs = self.Blocks
    }

    /* dump every block */
    for _, bb := range bbs {
        buf = append(buf, bb.Format(p))
    }
    return strings.Join(buf, "\n")
}

func slotWidth(wide bool) int {
    if wide {
        return 2
    } else {
        return 1
    }
}

func succCount(ins *Instr) (int, int) {
    switch ins.Op {
        case OP_jump   : return 1, 1
        case OP_branch : return 2, -1
        default        : return 0, 0
    }
}

// Validate checks the structural well-formedness of the CFG. It returns a
// MalformedInputError describing the first problem found.
func (self *Func) Validate() error {
    ids := make(map[int]*Block, len(self.Blocks))
    bad := func(bb *Block, f string, args ...interface{}) error {
        return MalformedInputError { Func: self.Name, Block: bb.Id, Reason: fmt.Sprintf(f, args...) }
    }

    /* must have an entry block */
    if len(self.Blocks) == 0 {
        return MalformedInputError { Func: self.Name, Block: -1, Reason: "function has no blocks" }
    }

    /* the entry block can not be a join point */
    if bb := self.Entry(); len(bb.Pred) != 0 || bb.Handler {
        return bad(bb, "entry block must not have predecessors")
    }

    /* block ids must be unique */
    for _, bb := range self.Blocks {
        if _, ok := ids[bb.Id]; ok {
            return bad(bb, "duplicated block id")
        } else {
            ids[bb.Id] = bb
        }
    }

    /* check every block */
    for _, bb := range self.Blocks {
        if bb.Term() == nil {
            return bad(bb, "block is not terminated")
        }

        /* terminators only at the end, exception edges never on terminators */
        for i, ins := range bb.Ins {
            if ins.IsTerminator() && i != len(bb.Ins) - 1 {
                return bad(bb, "terminator in the middle of the block: %s", ins)
            }
            if ins.Exc != nil && ins.IsTerminator() {
                return bad(bb, "terminator can not throw: %s", ins)
            }
            if ins.Exc != nil {
                if ins.Exc.Handler == nil || ids[ins.Exc.Handler.Id] != ins.Exc.Handler || !ins.Exc.Handler.Handler {
                    return bad(bb, "invalid exception handler: %s", ins)
                }
                if ins.Exc.Handler.PredIndex(bb) < 0 {
                    return bad(bb, "exception handler bb_%d does not list this block as predecessor", ins.Exc.Handler.Id)
                }
            }
        }

        /* successor count must match the terminator */
        tr := bb.Term()
        lo, hi := succCount(tr)
        if n := len(bb.Succ); n < lo || (hi >= 0 && n > hi) {
            return bad(bb, "%s with %d successors", tr.Op, n)
        }

        /* terminators never define values, nothing can be stored after them */
        if len(tr.Out) != 0 || len(tr.Tmp) != 0 {
            return bad(bb, "terminator with outputs: %s", tr)
        }

        /* jumps must not read anything, edge moves go right before them */
        if tr.Op == OP_jump && len(tr.In) != 0 {
            return bad(bb, "jump with operands")
        }

        /* edges must be symmetric */
        for _, s := range bb.Succ {
            if ids[s.Id] != s {
                return bad(bb, "successor bb_%d is not part of the function", s.Id)
            } else if s.Handler {
                return bad(bb, "ordinary edge into exception handler bb_%d", s.Id)
            } else if s.PredIndex(bb) < 0 {
                return bad(bb, "successor bb_%d does not list this block as predecessor", s.Id)
            }
        }

        /* and the other direction */
        for _, p := range bb.Pred {
            if ids[p.Id] != p {
                return bad(bb, "predecessor bb_%d is not part of the function", p.Id)
            } else if bb.Handler && !containsBlock(p.Handlers(), bb) {
                return bad(bb, "predecessor bb_%d never throws to this handler", p.Id)
            } else if !bb.Handler && !containsBlock(p.Succ, bb) {
                return bad(bb, "predecessor bb_%d does not list this block as successor", p.Id)
            }
        }

        /* phi arity */
        for _, phi := range bb.Phi {
            if bb.Handler && len(phi.In) != 0 {
                return bad(bb, "handler phi takes arguments from exception edges: %s", phi)
            } else if !bb.Handler && len(phi.In) != len(bb.Pred) {
                return bad(bb, "phi arity mismatch: %s", phi)
            } else if !phi.Dst.IsVar() && !phi.Dst.IsVirtual() {
                return bad(bb, "phi must define a variable or a virtual register: %s", phi)
            }
        }
    }

    /* exception edge arity */
    for _, bb := range self.Blocks {
        for _, ins := range bb.Ins {
            if ins.Exc != nil && len(ins.Exc.Args) != 0 && len(ins.Exc.Args) != len(ins.Exc.Handler.Phi) {
                return bad(bb, "exception edge arity mismatch: %s", ins)
            }
        }
    }
    return nil
}
