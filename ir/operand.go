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
)

// Kind is the tag of an Operand.
type Kind uint8

const (
    K_illegal Kind = iota
    K_var
    K_virtual
    K_fixed
    K_stack
    K_const
)

// Class is the register class of a value.
type Class uint8

const (
    C_int Class = iota
    C_float
)

func (self Class) String() string {
    switch self {
        case C_int   : return "int"
        case C_float : return "float"
        default      : return fmt.Sprintf("class(%d)", uint8(self))
    }
}

// Mode is the way an instruction accesses one of its operands.
type Mode uint8

const (
    M_input Mode = iota
    M_temp
    M_output
)

func (self Mode) String() string {
    switch self {
        case M_input  : return "input"
        case M_temp   : return "temp"
        case M_output : return "output"
        default       : return "???"
    }
}

// Operand is a tagged union of every operand kind the allocator understands.
//
// Num is the variable index for K_var, the virtual register number for
// K_virtual, the physical register for K_fixed and the slot index for K_stack.
// Hi is the second register of a pair, and is only meaningful when Pair is set.
// Orig remembers the virtual register a location was colored from, plus one.
type Operand struct {
    Kind  Kind
    Class Class
    Wide  bool
    Pair  bool
    Num   int
    Hi    int
    Val   int64
    Orig  int
}

// Undef is the illegal operand, used for phi arguments with no reaching definition.
var Undef = Operand{}

// VarOperand refers to the pre-SSA variable n.
func VarOperand(n int, c Class) Operand {
    return Operand { Kind: K_var, Class: c, Num: n }
}

func Virtual(n int, c Class) Operand {
    return Operand { Kind: K_virtual, Class: c, Num: n }
}

func Fixed(r int, c Class) Operand {
    return Operand { Kind: K_fixed, Class: c, Num: r }
}

func FixedPair(lo int, hi int, c Class) Operand {
    return Operand { Kind: K_fixed, Class: c, Num: lo, Hi: hi, Pair: true, Wide: true }
}

func Stack(s int, c Class) Operand {
    return Operand { Kind: K_stack, Class: c, Num: s }
}

func Const(v int64, c Class) Operand {
    return Operand { Kind: K_const, Class: c, Val: v }
}

// AsWide marks the operand as a double-width value.
func (self Operand) AsWide() Operand {
    self.Wide = true
    return self
}

func (self Operand) IsIllegal() bool { return self.Kind == K_illegal }
func (self Operand) IsVar()     bool { return self.Kind == K_var }
func (self Operand) IsVirtual() bool { return self.Kind == K_virtual }
func (self Operand) IsFixed()   bool { return self.Kind == K_fixed }
func (self Operand) IsStack()   bool { return self.Kind == K_stack }
func (self Operand) IsConst()   bool { return self.Kind == K_const }

// IsRegister reports whether the operand names a register, virtual or physical.
func (self Operand) IsRegister() bool {
    return self.Kind == K_virtual || self.Kind == K_fixed
}

// IsLocation reports whether the operand is a concrete storage location.
func (self Operand) IsLocation() bool {
    return self.Kind == K_fixed || self.Kind == K_stack
}

// Origin returns the virtual register this location was colored from.
func (self Operand) Origin() (int, bool) {
    if self.Orig == 0 {
        return 0, false
    } else {
        return self.Orig - 1, true
    }
}

// WithOrigin returns a copy that remembers v as its source virtual register.
func (self Operand) WithOrigin(v int) Operand {
    self.Orig = v + 1
    return self
}

// SameLocation reports whether two operands denote the same storage.
func (self Operand) SameLocation(other Operand) bool {
    if self.Kind != other.Kind {
        return false
    }

    /* compare by kind */
    switch self.Kind {
        case K_fixed   : return self.Num == other.Num && self.Pair == other.Pair && (!self.Pair || self.Hi == other.Hi)
        case K_stack   : return self.Num == other.Num
        case K_virtual : return self.Num == other.Num
        case K_var     : return self.Num == other.Num
        case K_const   : return self.Val == other.Val
        default        : return true
    }
}

func (self Operand) String() string {
    return self.Format(nil)
}

// Format prints the operand, using the platform register names when p is not nil.
func (self Operand) Format(p *Platform) string {
    switch self.Kind {
        case K_illegal : return "undef"
        case K_var     : return fmt.Sprintf("%%x%d%s", self.Num, self.suffix())
        case K_virtual : return fmt.Sprintf("v%d%s", self.Num, self.suffix())
        case K_stack   : return fmt.Sprintf("[sp+%d]", self.Num)
        case K_const   : return fmt.Sprintf("$%d", self.Val)
    }

    /* physical registers */
    if !self.Pair {
        return p.RegName(self.Num)
    } else {
        return p.RegName(self.Num) + ":" + p.RegName(self.Hi)
    }
}

func (self Operand) suffix() string {
    switch {
        case self.Class == C_float && self.Wide : return ".d"
        case self.Class == C_float              : return ".f"
        case self.Wide                          : return ".l"
        default                                 : return ""
    }
}
