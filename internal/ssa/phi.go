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

func varOperand(fn *ir.Func, v int) ir.Operand {
    return ir.Operand {
        Kind  : ir.K_var,
        Class : fn.Vars[v].Class,
        Wide  : fn.Vars[v].Wide,
        Num   : v,
    }
}

func checkVar(fn *ir.Func, bb *ir.Block, op ir.Operand) error {
    if op.Num < 0 || op.Num >= len(fn.Vars) {
        return utils.EMalformed(fn, bb, "undeclared variable %s", op)
    }

    /* must match the declaration */
    if vd := fn.Vars[op.Num]; vd.Class != op.Class || vd.Wide != op.Wide {
        return utils.EMalformed(fn, bb, "variable %s (%s) used as %s", vd.Name, op, varOperand(fn, op.Num))
    }
    return nil
}

// implicitlyDefined reports whether the entry block defines v.
func implicitlyDefined(fn *ir.Func, v int) bool {
    switch fn.Vars[v].Kind {
        case ir.V_local  : return true
        case ir.V_return : return true
        case ir.V_param  : return true
        default          : return false
    }
}

// throwers lists every instruction that throws to each handler.
func throwers(cfg *CFG) map[int][]*ir.Instr {
    ret := make(map[int][]*ir.Instr)
    for _, bb := range cfg.Blocks {
        for _, ins := range bb.Ins {
            if ins.Exc != nil {
                ret[ins.Exc.Handler.Id] = append(ret[ins.Exc.Handler.Id], ins)
            }
        }
    }
    return ret
}

func insertPhiNodes(cfg *CFG) error {
    nb := len(cfg.Blocks)
    nv := len(cfg.Vars)
    exc := throwers(cfg)
    defs := make([][]int, nv)
    work := make([]int, nb)
    hasphi := make([]int, nb)

    /* exception edges must carry an argument for every existing handler phi */
    for _, bb := range cfg.Blocks {
        for _, ins := range exc[bb.Id] {
            if len(ins.Exc.Args) == 0 && len(bb.Phi) != 0 {
                ins.Exc.Args = make([]ir.Operand, len(bb.Phi))
            }
        }
    }

    /* the entry block implicitly defines params, locals and the return slot */
    for v := range cfg.Vars {
        if implicitlyDefined(cfg.Func, v) {
            defs[v] = append(defs[v], 0)
        }
    }

    /* mark all the definition sites */
    for i, bb := range cfg.Blocks {
        for _, phi := range bb.Phi {
            if phi.Dst.IsVar() {
                if err := checkVar(cfg.Func, bb, phi.Dst); err != nil {
                    return err
                } else {
                    defs[phi.Dst.Num] = append(defs[phi.Dst.Num], i)
                }
            }
        }

        /* ordinary definitions */
        for _, ins := range bb.Ins {
            for _, d := range ins.Out {
                if d.IsVar() {
                    if err := checkVar(cfg.Func, bb, d); err != nil {
                        return err
                    } else {
                        defs[d.Num] = append(defs[d.Num], i)
                    }
                }
            }
        }
    }

    /* insert Phi node for every variable, the stamp avoids clearing the marks */
    for v, sites := range defs {
        q := lane.NewQueue()
        stamp := v + 1

        /* variables that are never assigned need no Phi nodes */
        if len(sites) == 0 {
            continue
        }

        /* existing Phi nodes for this variable */
        for i, bb := range cfg.Blocks {
            for _, phi := range bb.Phi {
                if phi.Dst.IsVar() && phi.Dst.Num == v {
                    hasphi[i] = stamp
                }
            }
        }

        /* seed the worklist with the definition sites */
        for _, i := range sites {
            if work[i] != stamp {
                work[i] = stamp
                q.Enqueue(i)
            }
        }

        /* exception handlers observe the value at every throwing instruction,
         * which may differ from the value at the end of the throwing block */
        for i, bb := range cfg.Blocks {
            if bb.Handler && hasphi[i] != stamp {
                hasphi[i] = stamp
                addPhiNode(cfg, bb, v, exc[bb.Id])

                /* a Phi node is also a definition */
                if work[i] != stamp {
                    work[i] = stamp
                    q.Enqueue(i)
                }
            }
        }

        /* flood the iterated dominance frontier */
        for !q.Empty() {
            x := q.Dequeue().(int)
            for _, y := range cfg.DominanceFrontier[cfg.Blocks[x].Id] {
                i := cfg.index[y.Id]

                /* already has a Phi node for this variable */
                if hasphi[i] == stamp {
                    continue
                }

                /* insert a new Phi node */
                hasphi[i] = stamp
                addPhiNode(cfg, y, v, exc[y.Id])

                /* a node may contain both an ordinary definition and a
                 * Phi node for the same variable */
                if work[i] != stamp {
                    work[i] = stamp
                    q.Enqueue(i)
                }
            }
        }
    }
    return nil
}

func addPhiNode(cfg *CFG, bb *ir.Block, v int, exc []*ir.Instr) {
    var in []ir.Operand
    op := varOperand(cfg.Func, v)

    /* handler Phi nodes take their arguments from the exception edges */
    if bb.Handler {
        for _, ins := range exc {
            ins.Exc.Args = append(ins.Exc.Args, op)
        }
    } else {
        in = make([]ir.Operand, len(bb.Pred))
        for i := range in { in[i] = op }
    }

    /* add to the block */
    bb.Phi = append(bb.Phi, &ir.Phi {
        Dst : op,
        In  : in,
    })
}
