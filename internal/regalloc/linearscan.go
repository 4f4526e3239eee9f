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
    `fmt`
    `strings`

    `github.com/cloudwego/lsra/internal/opts`
    `github.com/cloudwego/lsra/internal/utils`
    `github.com/cloudwego/lsra/ir`
    `github.com/davecgh/go-spew/spew`
    `tlog.app/go/errors`
    `tlog.app/go/tlog`
)

type _Block struct {
    bb    *ir.Block
    first int
    last  int
}

// Stats summarizes one allocation.
type Stats struct {
    Intervals  int
    Children   int
    Spilled    int
    Slots      int
    Moves      int
    Eliminated int
}

func (self Stats) String() string {
    return fmt.Sprintf(
        "intervals=%d children=%d spilled=%d slots=%d moves=%d eliminated=%d",
        self.Intervals,
        self.Children,
        self.Spilled,
        self.Slots,
        self.Moves,
        self.Eliminated,
    )
}

// LinearScan is the allocation state of one function. Intervals live in an
// arena indexed by id: ids below the register count are the fixed intervals
// of the physical registers, virtual register v owns id nregs + v.
type LinearScan struct {
    fn      *ir.Func
    plat    *ir.Platform
    opts    *opts.Options
    nregs   int
    maxId   int
    iv      []*Interval
    decl    []ir.Operand
    ndefs   []int
    inLoop  map[int]ir.RegSet
    blocks  []_Block
    ops     []*ir.Instr
    opbb    []int
    nslots  int
    hole    int
    pending map[int]*MoveResolver
    before  map[int][]_Move
    head    [][]_Move
    tail    [][]_Move
    exc     map[*ir.Instr][]_Move
    phis    map[int][]ir.Operand
    stats   Stats
}

func newLinearScan(fn *ir.Func, p *ir.Platform, o *opts.Options) *LinearScan {
    return &LinearScan {
        fn      : fn,
        plat    : p,
        opts    : o,
        nregs   : p.NumRegs(),
        hole    : -1,
        pending : make(map[int]*MoveResolver),
        before  : make(map[int][]_Move),
    }
}

type _Step struct {
    name   string
    always bool
    exec   func(*LinearScan, context.Context) error
}

var _Steps = [...]_Step {
    { "Call Result Lowering"      , true , (*LinearScan).lowerCallResults      },
    { "Instruction Numbering"     , true , (*LinearScan).number                },
    { "Liveness Analysis"         , true , (*LinearScan).computeLiveness       },
    { "Interval Construction"     , true , (*LinearScan).buildIntervals        },
    { "Register Allocation"       , true , (*LinearScan).allocateRegisters     },
    { "Split Move Resolution"     , true , (*LinearScan).resolveSplitMoves     },
    { "Data Flow Resolution"      , true , (*LinearScan).resolveDataFlow       },
    { "Exception Edge Resolution" , true , (*LinearScan).resolveExceptionEdges },
    { "Location Assignment"       , true , (*LinearScan).assignLocations       },
    { "Allocation Verification"   , false, (*LinearScan).verify                },
    { "Redundant Move Removal"    , true , (*LinearScan).removeRedundantMoves  },
}

// Allocate assigns a location to every virtual register of fn. The function
// must be in SSA form with a linear block order, its Phi nodes lowered
// except in exception handlers, and its critical edges split.
func Allocate(ctx context.Context, fn *ir.Func, p *ir.Platform, o *opts.Options) (_ *Stats, err error) {
    tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "regalloc", "func", fn.Name, "platform", p.Name)
    defer tr.Finish("err", &err)

    /* run every step */
    ls := newLinearScan(fn, p, o)
    for _, s := range _Steps {
        if !s.always && !o.Verify {
            continue
        }
        if err = s.exec(ls, ctx); err != nil {
            return nil, errors.Wrap(err, "%s", s.name)
        }
    }

    /* dump the intervals if needed */
    if tr.If("lsra_intervals") {
        tr.Printw("intervals", "func", fn.Name, "dump", ls.dumpIntervals())
    }

    /* dump the result if needed */
    if tr.If("lsra_result") {
        tr.Printw("allocated", "func", fn.Name, "stats", spew.Sdump(ls.stats), "code", fn.Format(p))
    }
    return &ls.stats, nil
}

// interval returns the split parent of virtual register v.
func (self *LinearScan) interval(v int) *Interval {
    return self.iv[self.nregs + v]
}

// parentOf returns the split parent of any interval.
func (self *LinearScan) parentOf(it *Interval) *Interval {
    return self.iv[it.Parent]
}

// newChild creates an empty interval that shares the value of it. Every
// child takes a fresh virtual register number, so the arena stays indexed by
// virtual registers.
func (self *LinearScan) newChild(it *Interval, pos int) (*Interval, error) {
    v := self.fn.NumVirtual
    parent := self.parentOf(it)

    /* check for numbering space */
    if !self.opts.CanNumber(v) {
        return nil, utils.EExhausted(self.fn, it.Id, pos, "out of virtual register numbers while splitting")
    }

    /* create the child */
    ret := newInterval(self.nregs + v, it.Class, it.Wide)
    ret.value = it.value
    ret.Parent = parent.Id
    ret.Hint = parent.Id

    /* register in the arena */
    self.fn.NumVirtual++
    self.iv = append(self.iv, ret)
    parent.Children = append(parent.Children, ret.Id)
    return ret, nil
}

// splitChildAt finds the part of v's interval that holds the value at pos.
// Outputs need the interval to strictly cover the position, inputs may also
// read from a child that ends there.
func (self *LinearScan) splitChildAt(parent *Interval, pos int, mode ir.Mode) *Interval {
    if len(parent.Children) == 0 {
        return parent
    }

    /* strict match first */
    if parent.From() <= pos && pos < parent.To() {
        return parent
    }
    for _, id := range parent.Children {
        if it := self.iv[id]; it.From() <= pos && pos < it.To() {
            return it
        }
    }

    /* outputs never accept the end of an interval */
    if mode == ir.M_output {
        return nil
    }

    /* inputs may read from an interval ending at this position */
    if parent.To() == pos {
        return parent
    }
    for _, id := range parent.Children {
        if it := self.iv[id]; it.To() == pos {
            return it
        }
    }
    return nil
}

// childAt is splitChildAt for a virtual register, failing loudly if nothing holds the value.
func (self *LinearScan) childAt(v int, pos int, mode ir.Mode) (*Interval, error) {
    if ret := self.splitChildAt(self.interval(v), pos, mode); ret != nil {
        return ret, nil
    } else {
        return nil, utils.EInternal(self.fn, "assign", "no split child of v%d at %d (%s)", v, pos, mode)
    }
}

// alwaysInMemory reports whether the canonical spill slot of the value is
// valid everywhere after its definition.
func (self *LinearScan) alwaysInMemory(it *Interval) bool {
    switch self.parentOf(it).spillState {
        case S_storeAtDefinition : return true
        case S_startInMemory     : return true
        default                  : return false
    }
}

// operandOf returns the location assigned to the interval as an operand.
func (self *LinearScan) operandOf(it *Interval) ir.Operand {
    var op ir.Operand

    /* the location */
    switch {
        case it.Slot >= 0    : op = ir.Stack(it.Slot, it.Class)
        case it.Hi != _NoReg : op = ir.FixedPair(it.Reg, it.Hi, it.Class)
        default              : op = ir.Fixed(it.Reg, it.Class)
    }

    /* fixed intervals carry no value */
    op.Wide = it.Wide
    if it.value >= 0 {
        op = op.WithOrigin(it.value)
    }
    return op
}

func (self *LinearScan) dumpIntervals() string {
    var buf []string
    for _, it := range self.iv {
        if it != nil && len(it.Ranges) != 0 {
            buf = append(buf, it.String())
        }
    }
    return strings.Join(buf, "\n")
}
