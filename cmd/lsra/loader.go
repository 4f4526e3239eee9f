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

package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/lsra/ir"
	"tlog.app/go/errors"
)

// FuncDesc is the JSON description of a function.
//
//	{
//	  "name": "max",
//	  "vars": [ { "name": "a", "kind": "param", "loc": "%rdi" }, { "name": "b", "kind": "param", "loc": "%rsi" } ],
//	  "blocks": [
//	    { "ins": [ { "op": "alu", "name": "cmp", "in": [ "a", "b" ], "out": [ "c" ] } ], "term": { "op": "branch", "in": [ "c" ], "succ": [ 1, 2 ] } },
//	    { "term": { "op": "ret", "in": [ "a" ] } },
//	    { "term": { "op": "ret", "in": [ "b" ] } }
//	  ]
//	}
//
// Operands are variable names, constants ("$42"), physical registers
// ("%rax") or incoming stack arguments ("[sp+1]"). Variables that are not
// declared become temps of the integer class.
type FuncDesc struct {
	Name   string      `json:"name"`
	Vars   []VarDesc   `json:"vars"`
	Blocks []BlockDesc `json:"blocks"`
}

type VarDesc struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Class string `json:"class"`
	Wide  bool   `json:"wide"`
	Loc   string `json:"loc"`
}

type BlockDesc struct {
	Handler bool        `json:"handler"`
	Ins     []InstrDesc `json:"ins"`
	Term    InstrDesc   `json:"term"`
}

type InstrDesc struct {
	Op     string   `json:"op"`
	Name   string   `json:"name"`
	In     []string `json:"in"`
	Out    []string `json:"out"`
	Tmp    []string `json:"tmp"`
	Info   []string `json:"info"`
	Succ   []int    `json:"succ"`
	Throws *int     `json:"throws"`
}

var opNames = map[string]ir.Op{
	"nop":    ir.OP_nop,
	"move":   ir.OP_move,
	"const":  ir.OP_const,
	"alu":    ir.OP_alu,
	"call":   ir.OP_call,
	"jump":   ir.OP_jump,
	"branch": ir.OP_branch,
	"ret":    ir.OP_return,
}

var varKinds = map[string]ir.VarKind{
	"":       ir.V_temp,
	"temp":   ir.V_temp,
	"local":  ir.V_local,
	"return": ir.V_return,
	"param":  ir.V_param,
}

type loader struct {
	fn   *ir.Func
	plat *ir.Platform
	vars map[string]ir.Operand
}

// LoadFile reads a function description and builds the function for platform p.
func LoadFile(name string, p *ir.Platform) (*ir.Func, error) {
	var fd FuncDesc
	buf, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	/* decode the description */
	if err = json.Unmarshal(buf, &fd); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	/* default function name */
	if fd.Name == "" {
		fd.Name = strings.TrimSuffix(name, ".json")
	}

	/* build the function */
	return Load(&fd, p)
}

// Load builds the function from its description.
func Load(fd *FuncDesc, p *ir.Platform) (*ir.Func, error) {
	ld := &loader{
		fn:   &ir.Func{Name: fd.Name},
		plat: p,
		vars: make(map[string]ir.Operand),
	}

	/* must have at least one block */
	if len(fd.Blocks) == 0 {
		return nil, errors.New("function %s has no blocks", fd.Name)
	}

	/* declare the variables */
	for _, vd := range fd.Vars {
		if err := ld.declare(vd); err != nil {
			return nil, errors.Wrap(err, "var %s", vd.Name)
		}
	}

	/* create the blocks first, edges may point forward */
	for range fd.Blocks {
		ld.fn.NewBlock()
	}

	/* fill the blocks */
	for i, bd := range fd.Blocks {
		if err := ld.block(ld.fn.Blocks[i], bd); err != nil {
			return nil, errors.Wrap(err, "bb_%d", i)
		}
	}
	return ld.fn, nil
}

func parseClass(s string) (ir.Class, error) {
	switch s {
	case "", "int":
		return ir.C_int, nil
	case "float":
		return ir.C_float, nil
	default:
		return 0, errors.New("invalid register class: %q", s)
	}
}

func (self *loader) declare(vd VarDesc) error {
	kind, ok := varKinds[vd.Kind]
	if !ok {
		return errors.New("invalid variable kind: %q", vd.Kind)
	}

	/* register class */
	cls, err := parseClass(vd.Class)
	if err != nil {
		return err
	}

	/* parameters take their incoming location */
	if kind == ir.V_param {
		loc, err := self.location(vd.Loc, cls, vd.Wide)
		if err != nil {
			return err
		}
		self.vars[vd.Name] = self.fn.NewParam(vd.Name, loc)
		return nil
	}

	/* ordinary variables */
	if vd.Wide {
		self.vars[vd.Name] = self.fn.NewWideVar(vd.Name, kind, cls)
	} else {
		self.vars[vd.Name] = self.fn.NewVar(vd.Name, kind, cls)
	}
	return nil
}

// location parses a physical register or a stack slot.
func (self *loader) location(s string, cls ir.Class, wide bool) (ir.Operand, error) {
	switch {
	case strings.HasPrefix(s, "%"):
		return self.register(s[1:], cls, wide)
	case strings.HasPrefix(s, "[sp+") && strings.HasSuffix(s, "]"):
		n, err := strconv.Atoi(s[4 : len(s)-1])
		if err != nil || n < 0 {
			return ir.Undef, errors.New("invalid stack slot: %q", s)
		}
		op := ir.Stack(n, cls)
		op.Wide = wide
		return op, nil
	default:
		return ir.Undef, errors.New("invalid location: %q", s)
	}
}

// register looks up a register by name, "rax:rdx" names a register pair.
func (self *loader) register(s string, cls ir.Class, wide bool) (ir.Operand, error) {
	find := func(name string) (int, error) {
		for i, r := range self.plat.Regs {
			if r.Name == name {
				return i, nil
			}
		}
		return -1, errors.New("unknown register: %q", name)
	}

	/* single registers */
	lo, hi, pair := strings.Cut(s, ":")
	if !pair {
		r, err := find(lo)
		if err != nil {
			return ir.Undef, err
		}
		op := ir.Fixed(r, self.plat.Regs[r].Class)
		op.Wide = wide
		return op, nil
	}

	/* register pairs */
	r1, err := find(lo)
	if err != nil {
		return ir.Undef, err
	}
	r2, err := find(hi)
	if err != nil {
		return ir.Undef, err
	}
	return ir.FixedPair(r1, r2, cls), nil
}

// operand parses one operand, undeclared names become integer temps.
func (self *loader) operand(s string) (ir.Operand, error) {
	switch {
	case s == "undef":
		return ir.Undef, nil
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return ir.Undef, errors.New("invalid constant: %q", s)
		}
		return ir.Const(v, ir.C_int), nil
	case strings.HasPrefix(s, "%"), strings.HasPrefix(s, "["):
		return self.location(s, ir.C_int, false)
	}

	/* variables */
	if op, ok := self.vars[s]; ok {
		return op, nil
	}

	/* declare a new temp */
	op := self.fn.NewVar(s, ir.V_temp, ir.C_int)
	self.vars[s] = op
	return op, nil
}

func (self *loader) operands(ss []string) ([]ir.Operand, error) {
	ret := make([]ir.Operand, 0, len(ss))
	for _, s := range ss {
		if op, err := self.operand(s); err != nil {
			return nil, err
		} else {
			ret = append(ret, op)
		}
	}
	return ret, nil
}

func (self *loader) instr(bb *ir.Block, d InstrDesc) (*ir.Instr, error) {
	var err error
	var ins = new(ir.Instr)

	/* the opcode */
	op, ok := opNames[d.Op]
	if !ok {
		return nil, errors.New("invalid opcode: %q", d.Op)
	}

	/* the operands */
	ins.Op, ins.Name = op, d.Name
	if ins.In, err = self.operands(d.In); err != nil {
		return nil, err
	}
	if ins.Out, err = self.operands(d.Out); err != nil {
		return nil, err
	}
	if ins.Tmp, err = self.operands(d.Tmp); err != nil {
		return nil, err
	}

	/* debug info */
	if len(d.Info) != 0 {
		ins.Info = new(ir.Info)
		if ins.Info.Values, err = self.operands(d.Info); err != nil {
			return nil, err
		}
	}

	/* exception edge */
	if d.Throws != nil {
		if *d.Throws < 0 || *d.Throws >= len(self.fn.Blocks) {
			return nil, errors.New("invalid exception handler: bb_%d", *d.Throws)
		}
		self.fn.Throws(bb, ins, self.fn.Blocks[*d.Throws])
	}
	return ins, nil
}

func (self *loader) block(bb *ir.Block, bd BlockDesc) error {
	bb.Handler = bb.Handler || bd.Handler

	/* the instructions */
	for _, d := range bd.Ins {
		if ins, err := self.instr(bb, d); err != nil {
			return err
		} else {
			bb.Append(ins)
		}
	}

	/* the successors */
	var succ []*ir.Block
	for _, i := range bd.Term.Succ {
		if i < 0 || i >= len(self.fn.Blocks) {
			return errors.New("invalid successor: bb_%d", i)
		}
		succ = append(succ, self.fn.Blocks[i])
	}

	/* the terminator */
	switch bd.Term.Op {
	case "jump":
		if len(succ) != 1 {
			return errors.New("jump needs exactly one successor")
		}
		bb.Jump(succ[0])
	case "branch":
		cond, err := self.operands(bd.Term.In)
		if err != nil {
			return err
		}
		if len(cond) != 1 {
			return errors.New("branch needs exactly one condition")
		}
		bb.Branch(cond[0], succ...)
	case "ret", "":
		vals, err := self.operands(bd.Term.In)
		if err != nil {
			return err
		}
		bb.Return(vals...)
	default:
		return errors.New("invalid terminator: %q", bd.Term.Op)
	}
	return nil
}
