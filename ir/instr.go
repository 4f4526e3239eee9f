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

type Op uint8

const (
    OP_nop Op = iota
    OP_entry
    OP_move
    OP_const
    OP_alu
    OP_call
    OP_jump
    OP_branch
    OP_return
)

var _OpNames = [...]string {
    OP_nop    : "nop",
    OP_entry  : "entry",
    OP_move   : "move",
    OP_const  : "const",
    OP_alu    : "alu",
    OP_call   : "call",
    OP_jump   : "jump",
    OP_branch : "branch",
    OP_return : "ret",
}

func (self Op) String() string {
    if int(self) < len(_OpNames) {
        return _OpNames[self]
    } else {
        return fmt.Sprintf("op(%d)", uint8(self))
    }
}

// Info is a debug or inspection handle attached to an instruction. Values are
// the operands the handle refers to, and Locs receives their concrete
// locations at that exact instruction once allocation is done.
type Info struct {
    Values []Operand
    Locs   []Operand
}

// ExcEdge is the exception edge of a throwing instruction. Args has one entry
// per phi of the handler block, bound to the value current at the throwing
// instruction. Moves is the entry code executed on the edge before control
// reaches the handler.
type ExcEdge struct {
    Handler *Block
    Args    []Operand
    Moves   []*Instr
}

// Instr is an abstract instruction. Terminators (jump, branch and ret) must be
// the last instruction of a block and transfer control to Block.Succ in order.
type Instr struct {
    Id   int
    Op   Op
    Name string
    In   []Operand
    Out  []Operand
    Tmp  []Operand
    Info *Info
    Exc  *ExcEdge
}

// NewMove creates a move that was not part of the input program.
func NewMove(dst Operand, src Operand) *Instr {
    return &Instr {
        Id  : -1,
        Op  : OP_move,
        In  : []Operand { src },
        Out : []Operand { dst },
    }
}

func (self *Instr) IsTerminator() bool {
    return self.Op == OP_jump || self.Op == OP_branch || self.Op == OP_return
}

func (self *Instr) IsCall() bool {
    return self.Op == OP_call
}

func (self *Instr) IsMove() bool {
    return self.Op == OP_move && len(self.In) == 1 && len(self.Out) == 1
}

// IsInserted reports whether the instruction was created by the allocator.
func (self *Instr) IsInserted() bool {
    return self.Id < 0
}

// Operands returns the operand list of the given mode.
func (self *Instr) Operands(mode Mode) []Operand {
    switch mode {
        case M_input  : return self.In
        case M_temp   : return self.Tmp
        case M_output : return self.Out
        default       : panic("invalid operand mode")
    }
}

// Visit calls fn for every operand in the order inputs, temps, outputs.
func (self *Instr) Visit(fn func(op *Operand, mode Mode)) {
    for i := range self.In  { fn(&self.In[i], M_input) }
    for i := range self.Tmp { fn(&self.Tmp[i], M_temp) }
    for i := range self.Out { fn(&self.Out[i], M_output) }
}

// Clone makes a shallow copy with fresh operand slices.
func (self *Instr) Clone() *Instr {
    ret := *self
    ret.In = append([]Operand(nil), self.In...)
    ret.Out = append([]Operand(nil), self.Out...)
    ret.Tmp = append([]Operand(nil), self.Tmp...)

    /* copy the debug info */
    if self.Info != nil {
        ret.Info = &Info {
            Values : append([]Operand(nil), self.Info.Values...),
            Locs   : append([]Operand(nil), self.Info.Locs...),
        }
    }

    /* copy the exception edge */
    if self.Exc != nil {
        ret.Exc = &ExcEdge {
            Handler : self.Exc.Handler,
            Args    : append([]Operand(nil), self.Exc.Args...),
            Moves   : append([]*Instr(nil), self.Exc.Moves...),
        }
    }
    return &ret
}

func (self *Instr) String() string {
    return self.Format(nil)
}

func formatOperands(ops []Operand, p *Platform) string {
    buf := make([]string, len(ops))
    for i, v := range ops { buf[i] = v.Format(p) }
    return strings.Join(buf, ", ")
}

// Format prints the instruction, naming physical registers after p.
func (self *Instr) Format(p *Platform) string {
    var sb strings.Builder
    var nm string

    /* id prefix, inserted instructions have none */
    if self.Id >= 0 {
        fmt.Fprintf(&sb, "%4d: ", self.Id)
    } else {
        sb.WriteString("   *: ")
    }

    /* outputs */
    if len(self.Out) != 0 {
        sb.WriteString(formatOperands(self.Out, p))
        sb.WriteString(" = ")
    }

    /* mnemonic */
    if nm = self.Op.String(); self.Name != "" {
        nm = nm + " " + self.Name
    }

    /* inputs */
    sb.WriteString(nm)
    if len(self.In) != 0 {
        sb.WriteString(" ")
        sb.WriteString(formatOperands(self.In, p))
    }

    /* temps */
    if len(self.Tmp) != 0 {
        fmt.Fprintf(&sb, " [tmp %s]", formatOperands(self.Tmp, p))
    }

    /* debug info */
    if self.Info != nil {
        if len(self.Info.Locs) != 0 {
            fmt.Fprintf(&sb, " {info %s}", formatOperands(self.Info.Locs, p))
        } else {
            fmt.Fprintf(&sb, " {info %s}", formatOperands(self.Info.Values, p))
        }
    }

    /* exception edge */
    if self.Exc != nil {
        fmt.Fprintf(&sb, " throws bb_%d(%s)", self.Exc.Handler.Id, formatOperands(self.Exc.Args, p))
        for _, mv := range self.Exc.Moves {
            fmt.Fprintf(&sb, "\n        | %s", strings.TrimSpace(mv.Format(p)))
        }
    }
    return sb.String()
}
