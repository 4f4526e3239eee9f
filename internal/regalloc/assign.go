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

type _Assigner struct {
    ls     *LinearScan
    buf    []*ir.Instr
    stores map[int][]_Move
}

// isEliminated reports whether a move between two parts of the same value
// stores into a slot that already holds the value.
func (self *LinearScan) isEliminated(m _Move) bool {
    if m.from == nil || m.to.temp || !m.to.OnStack() || m.from.value != m.to.value {
        return false
    } else {
        return self.alwaysInMemory(m.to) && self.parentOf(m.to).canonical == m.to.Slot
    }
}

// collectStores finds the values stored to their spill slot right after
// their definition.
func (self *LinearScan) collectStores() (map[int][]_Move, error) {
    ret := make(map[int][]_Move)
    for _, it := range self.iv[self.nregs:] {
        if it == nil || !it.IsSplitParent() || it.temp || it.spillState != S_storeAtDefinition {
            continue
        }

        /* the interval holding the value right after the definition */
        src, err := self.childAt(it.value, it.spillDef, ir.M_output)
        if err != nil {
            return nil, err
        }

        /* already stored */
        if src.OnStack() {
            continue
        }

        /* the store goes into a standalone interval in the canonical slot */
        dst, err := self.newSpillTemp(src, it.spillDef)
        if err != nil {
            return nil, err
        }

        /* add the store */
        dst.assignSlot(it.canonical)
        ret[it.spillDef] = append(ret[it.spillDef], _Move { from: src, to: dst })
    }
    return ret, nil
}

// move creates the instruction for a resolved move.
func (self *_Assigner) move(m _Move) *ir.Instr {
    if m.from == nil {
        return ir.NewMove(self.ls.operandOf(m.to), m.con)
    } else {
        return ir.NewMove(self.ls.operandOf(m.to), self.ls.operandOf(m.from))
    }
}

// emit appends the moves to the current block, skipping the eliminated ones.
func (self *_Assigner) emit(mv []_Move) {
    for _, m := range mv {
        if self.ls.isEliminated(m) {
            self.ls.stats.Eliminated++
        } else {
            self.ls.stats.Moves++
            self.buf = append(self.buf, self.move(m))
        }
    }
}

// color replaces a virtual operand with the location of its split child at pos.
func (self *_Assigner) color(op ir.Operand, pos int, mode ir.Mode) (ir.Operand, error) {
    if !op.IsVirtual() {
        return op, nil
    } else if it, err := self.ls.childAt(op.Num, pos, mode); err != nil {
        return op, err
    } else {
        return self.ls.operandOf(it), nil
    }
}

// instr returns a copy of ins with every virtual operand colored.
func (self *_Assigner) instr(ins *ir.Instr) (*ir.Instr, error) {
    var err error
    var ret = ins.Clone()

    /* operands, temps and outputs are written at the instruction */
    ret.Visit(func(op *ir.Operand, mode ir.Mode) {
        if err == nil {
            if mode == ir.M_input {
                *op, err = self.color(*op, ins.Id, ir.M_input)
            } else {
                *op, err = self.color(*op, ins.Id, ir.M_output)
            }
        }
    })

    /* check for errors */
    if err != nil {
        return nil, err
    }

    /* debug info, the locations at this instruction */
    if ret.Info != nil {
        ret.Info.Locs = make([]ir.Operand, len(ret.Info.Values))
        for i, v := range ret.Info.Values {
            if ret.Info.Locs[i], err = self.color(v, ins.Id, ir.M_input); err != nil {
                return nil, err
            }
        }
    }

    /* exception edge, the arguments are read at the instruction */
    if ret.Exc != nil {
        for i, v := range ret.Exc.Args {
            if ret.Exc.Args[i], err = self.color(v, ins.Id, ir.M_input); err != nil {
                return nil, err
            }
        }

        /* entry moves of the edge */
        moves := self.buf
        self.buf = nil
        self.emit(self.ls.exc[ins])
        ret.Exc.Moves, self.buf = self.buf, moves
    }
    return ret, nil
}

// block builds the final instruction sequence of one block.
func (self *_Assigner) block(i int) error {
    b := &self.ls.blocks[i]
    self.buf = make([]*ir.Instr, 0, len(b.bb.Ins))

    /* edge moves at the start, stores of handler Phi nodes */
    self.emit(self.ls.head[i])
    self.emit(self.stores[b.first])

    /* the instructions */
    for _, ins := range b.bb.Ins {
        self.emit(self.ls.before[ins.Id])

        /* moves at the end of the block, right before the terminator */
        if ins.IsTerminator() {
            if i + 1 < len(self.ls.blocks) {
                self.emit(self.ls.before[self.ls.blocks[i + 1].first])
            }
            self.emit(self.ls.tail[i])
        }

        /* the instruction itself */
        if ret, err := self.instr(ins); err != nil {
            return err
        } else {
            self.buf = append(self.buf, ret)
        }

        /* stores right after the definition */
        self.emit(self.stores[ins.Id])
    }

    /* handler Phi nodes now live in the exception entry moves, remember where they went */
    for _, phi := range b.bb.Phi {
        if dst, err := self.color(phi.Dst, b.first, ir.M_output); err != nil {
            return err
        } else {
            self.ls.phis[i] = append(self.ls.phis[i], dst)
        }
    }

    /* replace the instructions */
    b.bb.Ins = self.buf
    b.bb.Phi = nil
    self.buf = nil
    return nil
}

// assignLocations rewrites every block with the allocated locations, and
// inserts the moves found by the resolvers.
func (self *LinearScan) assignLocations(ctx context.Context) error {
    var err error
    var as = &_Assigner { ls: self }

    /* colored handler Phi destinations */
    self.phis = make(map[int][]ir.Operand)

    /* the stores at definition */
    if as.stores, err = self.collectStores(); err != nil {
        return err
    }

    /* rewrite every block */
    for i := range self.blocks {
        if err = as.block(i); err != nil {
            return err
        }
    }

    /* the frame size */
    self.fn.Frame = self.nslots
    tlog.SpanFromContext(ctx).Printw("assigned locations", "func", self.fn.Name, "moves", self.stats.Moves, "eliminated", self.stats.Eliminated, "frame", self.fn.Frame)
    return nil
}

// isRedundant reports whether the instruction is a move that does nothing.
func isRedundant(ins *ir.Instr) bool {
    return ins.IsMove() && ins.Info == nil && ins.Exc == nil && ins.Out[0].SameLocation(ins.In[0])
}

// removeRedundantMoves drops moves between the same locations.
func (self *LinearScan) removeRedundantMoves(ctx context.Context) error {
    var nb int
    for _, b := range self.blocks {
        ins := b.bb.Ins[:0]

        /* keep the useful instructions */
        for _, v := range b.bb.Ins {
            if !isRedundant(v) {
                ins = append(ins, v)
            } else {
                nb++
            }
        }

        /* exception entry moves too */
        for _, v := range ins {
            if v.Exc != nil {
                mv := v.Exc.Moves[:0]
                for _, m := range v.Exc.Moves {
                    if !isRedundant(m) {
                        mv = append(mv, m)
                    } else {
                        nb++
                    }
                }
                v.Exc.Moves = mv
            }
        }

        /* update the block */
        b.bb.Ins = ins
    }

    /* log the result */
    tlog.SpanFromContext(ctx).Printw("removed redundant moves", "func", self.fn.Name, "count", nb)
    return nil
}
