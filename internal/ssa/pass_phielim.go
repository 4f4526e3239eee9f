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
    `context`

    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/tlog`
)

type _Copy struct {
    dst ir.Operand
    src ir.Operand
}

// PhiLower replaces the Phi nodes of ordinary blocks with copies on every
// incoming edge. Exception handler Phi nodes are kept, their arguments are
// resolved at each throwing instruction during allocation.
type PhiLower struct{}

// sequentialize orders a parallel copy, breaking cycles with a new virtual register.
func (PhiLower) sequentialize(cfg *CFG, cc []_Copy) (ret []*ir.Instr) {
    var pending []_Copy

    /* self-copies are no-ops */
    for _, c := range cc {
        if !c.dst.SameLocation(c.src) {
            pending = append(pending, c)
        }
    }

    /* emit the copies whose destination is no longer read by anyone */
    for len(pending) != 0 {
        i := 0
        n := len(pending)

        /* find a free destination */
        for i < n && isRead(pending, i) {
            i++
        }

        /* all destinations are still read, this is a cycle, save one of them */
        if i == n {
            c := pending[0]
            tmp := cfg.NewVirtual(c.dst.Class)
            tmp.Wide = c.dst.Wide
            ret = append(ret, &ir.Instr { Op: ir.OP_move, In: []ir.Operand { c.dst }, Out: []ir.Operand { tmp } })

            /* redirect the readers */
            for j := range pending {
                if pending[j].src.SameLocation(c.dst) {
                    pending[j].src = tmp
                }
            }
            continue
        }

        /* emit the copy */
        c := pending[i]
        pending = append(pending[:i], pending[i + 1:]...)
        ret = append(ret, &ir.Instr { Op: ir.OP_move, In: []ir.Operand { c.src }, Out: []ir.Operand { c.dst } })
    }
    return
}

func isRead(cc []_Copy, i int) bool {
    for j, c := range cc {
        if j != i && c.src.IsVirtual() && c.src.SameLocation(cc[i].dst) {
            return true
        }
    }
    return false
}

func (self PhiLower) Apply(ctx context.Context, cfg *CFG) error {
    var nc int

    /* lower the Phi nodes of every ordinary block */
    for _, bb := range cfg.Blocks {
        if bb.Handler || len(bb.Phi) == 0 {
            continue
        }

        /* one parallel copy per incoming edge */
        for j, p := range bb.Pred {
            cc := make([]_Copy, 0, len(bb.Phi))
            for _, phi := range bb.Phi {
                cc = append(cc, _Copy { dst: phi.Dst, src: phi.In[j] })
            }

            /* sequentialize the copy */
            ins := self.sequentialize(cfg, cc)
            nc += len(ins)

            /* a predecessor with a single successor takes the copies right
             * before its jump, otherwise this block has a single predecessor */
            if len(p.Succ) == 1 {
                n := len(p.Ins) - 1
                p.Ins = append(append(append([]*ir.Instr(nil), p.Ins[:n]...), ins...), p.Ins[n])
            } else {
                bb.Ins = append(ins, bb.Ins...)
            }
        }

        /* the CFG is no longer in SSA form after this */
        bb.Phi = nil
    }

    /* log the copies */
    tlog.SpanFromContext(ctx).Printw("phi lowering", "func", cfg.Name, "copies", nc)
    return nil
}
