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
    `github.com/oleiade/lane`
)

type _PhiSite struct {
    bb  *ir.Block
    idx int
}

// prunePhis removes every Phi node that no real instruction depends on,
// and rejects the surviving ones that merge an undefined value.
func prunePhis(cfg *CFG) error {
    q := lane.NewQueue()
    exc := throwers(cfg)
    live := make(map[int]bool)
    phis := make(map[int]_PhiSite)

    /* index the Phi nodes by their definitions */
    for _, bb := range cfg.Blocks {
        for i, phi := range bb.Phi {
            if phi.Dst.IsVirtual() {
                phis[phi.Dst.Num] = _PhiSite { bb: bb, idx: i }
            }
        }
    }

    /* mark a value as used */
    mark := func(op ir.Operand) {
        if op.IsVirtual() && !live[op.Num] {
            live[op.Num] = true
            q.Enqueue(op.Num)
        }
    }

    /* real uses */
    for _, bb := range cfg.Blocks {
        for _, ins := range bb.Ins {
            for _, v := range ins.In {
                mark(v)
            }
            if ins.Info != nil {
                for _, v := range ins.Info.Values {
                    mark(v)
                }
            }
        }
    }

    /* propagate through the Phi nodes */
    for !q.Empty() {
        ps, ok := phis[q.Dequeue().(int)]
        if !ok {
            continue
        }

        /* ordinary Phi node */
        if !ps.bb.Handler {
            for _, v := range ps.bb.Phi[ps.idx].In {
                mark(v)
            }
            continue
        }

        /* handler Phi node, the arguments come from every throwing instruction */
        for _, ins := range exc[ps.bb.Id] {
            mark(ins.Exc.Args[ps.idx])
        }
    }

    /* rebuild the Phi lists */
    for _, bb := range cfg.Blocks {
        var keep []bool
        var phi []*ir.Phi

        /* filter out the dead nodes */
        for _, p := range bb.Phi {
            ok := !p.Dst.IsVirtual() || live[p.Dst.Num]
            keep = append(keep, ok)

            /* keep the live ones */
            if ok {
                phi = append(phi, p)
            }
        }

        /* the surviving nodes must be fully defined */
        for _, p := range phi {
            for _, v := range p.In {
                if v.IsIllegal() {
                    return utils.EMalformed(cfg.Func, bb, "%s merges a value with no reaching definition", p)
                }
            }
        }

        /* keep the exception edges in sync */
        if bb.Handler {
            for _, ins := range exc[bb.Id] {
                var args []ir.Operand
                for i, v := range ins.Exc.Args {
                    if keep[i] {
                        if v.IsIllegal() {
                            return utils.EMalformed(cfg.Func, bb, "%s throws with no reaching definition for %s", ins, bb.Phi[i].Dst)
                        }
                        args = append(args, v)
                    }
                }
                ins.Exc.Args = args
            }
        }

        /* update the Phi list */
        bb.Phi = phi
    }
    return nil
}

// zeroLocals materializes the implicit zero definitions that are still referenced.
func zeroLocals(cfg *CFG, lazy map[int]int) {
    var ins []*ir.Instr
    used := make(map[int]bool)

    /* no implicit definitions */
    if len(lazy) == 0 {
        return
    }

    /* mark every referenced value */
    mark := func(op ir.Operand) {
        if op.IsVirtual() {
            used[op.Num] = true
        }
    }

    /* scan all the uses */
    for _, bb := range cfg.Blocks {
        for _, p := range bb.Phi {
            for _, v := range p.In {
                mark(v)
            }
        }
        for _, p := range bb.Ins {
            for _, v := range p.In {
                mark(v)
            }
            if p.Info != nil {
                for _, v := range p.Info.Values {
                    mark(v)
                }
            }
            if p.Exc != nil {
                for _, v := range p.Exc.Args {
                    mark(v)
                }
            }
        }
    }

    /* emit the constants in variable order */
    for v := range cfg.Vars {
        for r, x := range lazy {
            if x == v && used[r] {
                op := ir.Virtual(r, cfg.Vars[v].Class)
                op.Wide = cfg.Vars[v].Wide
                ins = append(ins, &ir.Instr { Op: ir.OP_const, In: []ir.Operand { ir.Const(0, op.Class) }, Out: []ir.Operand { op } })
            }
        }
    }

    /* insert at the top of the entry block */
    bb := cfg.Entry()
    bb.Ins = append(ins, bb.Ins...)
}
