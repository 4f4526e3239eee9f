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
    `sort`
    `strings`
)

// Phi merges one value per predecessor edge into Dst. In is parallel to the
// Pred list of the owning block. Phis of exception handlers take their
// arguments from ExcEdge.Args of every throwing instruction instead.
type Phi struct {
    Dst Operand
    In  []Operand
}

func (self *Phi) String() string {
    return fmt.Sprintf("%s = φ(%s)", self.Dst, formatOperands(self.In, nil))
}

// Block is a basic block. The last instruction is always the terminator.
type Block struct {
    Id      int
    Phi     []*Phi
    Ins     []*Instr
    Pred    []*Block
    Succ    []*Block
    Idom    *Block
    Depth   int
    Loop    int
    Index   int
    Header  bool
    LoopEnd bool
    Handler bool
    Gen     RegSet
    Kill    RegSet
    LiveIn  RegSet
    LiveOut RegSet
}

// Term returns the terminator, or nil for a block under construction.
func (self *Block) Term() *Instr {
    if n := len(self.Ins); n == 0 || !self.Ins[n - 1].IsTerminator() {
        return nil
    } else {
        return self.Ins[n - 1]
    }
}

// FirstId is the id of the first instruction after numbering.
func (self *Block) FirstId() int {
    return self.Ins[0].Id
}

// LastId is the id of the terminator after numbering.
func (self *Block) LastId() int {
    return self.Ins[len(self.Ins) - 1].Id
}

// Handlers lists the distinct exception handlers reachable from this block.
func (self *Block) Handlers() (ret []*Block) {
    for _, ins := range self.Ins {
        if ins.Exc != nil && !containsBlock(ret, ins.Exc.Handler) {
            ret = append(ret, ins.Exc.Handler)
        }
    }
    return
}

// PredIndex returns the position of p in the predecessor list, or -1.
func (self *Block) PredIndex(p *Block) int {
    for i, v := range self.Pred {
        if v == p {
            return i
        }
    }
    return -1
}

// Append adds an instruction to the end of the block.
func (self *Block) Append(ins ...*Instr) *Block {
    self.Ins = append(self.Ins, ins...)
    return self
}

// Jump terminates the block with an unconditional jump to `to`.
func (self *Block) Jump(to *Block) {
    self.Ins = append(self.Ins, &Instr { Op: OP_jump })
    self.Succ = []*Block { to }
    to.Pred = append(to.Pred, self)
}

// Branch terminates the block with a multi-way branch on `cond`.
func (self *Block) Branch(cond Operand, to ...*Block) {
    self.Ins = append(self.Ins, &Instr { Op: OP_branch, In: []Operand { cond } })
    self.Succ = append([]*Block(nil), to...)

    /* link the predecessors */
    for _, bb := range to {
        bb.Pred = append(bb.Pred, self)
    }
}

// Return terminates the block with a return of `vals`.
func (self *Block) Return(vals ...Operand) {
    self.Ins = append(self.Ins, &Instr { Op: OP_return, In: vals })
    self.Succ = nil
}

func (self *Block) String() string {
    return fmt.Sprintf("bb_%d", self.Id)
}

// Format dumps the block with all its instructions.
func (self *Block) Format(p *Platform) string {
    var pred []string
    var succ []string

    /* edges */
    for _, v := range self.Pred { pred = append(pred, v.String()) }
    for _, v := range self.Succ { succ = append(succ, v.String()) }

    /* block header */
    buf := []string {
        fmt.Sprintf(
            "bb_%d: ; pred = {%s}, succ = {%s}, depth = %d",
            self.Id,
            strings.Join(pred, ", "),
            strings.Join(succ, ", "),
            self.Depth,
        ),
    }

    /* phi nodes and instructions */
    for _, v := range self.Phi { buf = append(buf, "      " + v.String()) }
    for _, v := range self.Ins { buf = append(buf, v.Format(p)) }
    return strings.Join(buf, "\n")
}

func containsBlock(bbs []*Block, bb *Block) bool {
    for _, v := range bbs {
        if v == bb {
            return true
        }
    }
    return false
}

// SortBlocks sorts blocks by id in place.
func SortBlocks(bbs []*Block) {
    sort.Slice(bbs, func(i int, j int) bool {
        return bbs[i].Id < bbs[j].Id
    })
}
