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

// BlockMerge removes intermediate blocks whose only instruction is a jump,
// redirecting their predecessors to the jump target. It runs after register
// allocation, when most of the blocks created for critical edges ended up
// without any moves.
type BlockMerge struct{}

func (BlockMerge) removable(cfg *CFG, bb *ir.Block) bool {
    if bb == cfg.Entry() || bb.Handler || len(bb.Ins) != 1 || len(bb.Phi) != 0 {
        return false
    }

    /* must be a plain jump to another block without Phi nodes */
    tr := bb.Ins[0]
    return tr.Op == ir.OP_jump && len(bb.Succ) == 1 && bb.Succ[0] != bb && len(bb.Succ[0].Phi) == 0
}

func (self BlockMerge) Apply(ctx context.Context, cfg *CFG) error {
    var nb int

    /* retry until no more intermediate blocks found */
    for {
        var rt bool
        var bbs []*ir.Block

        /* check every block */
        for _, bb := range cfg.Blocks {
            if rt || !self.removable(cfg, bb) {
                bbs = append(bbs, bb)
                continue
            }

            /* redirect all the predecessors */
            rt = true
            to := bb.Succ[0]
            for _, p := range bb.Pred {
                for i, s := range p.Succ {
                    if s == bb {
                        p.Succ[i] = to
                    }
                }
            }

            /* update the predecessor list of the target */
            var pred []*ir.Block
            for _, p := range to.Pred {
                if p == bb {
                    pred = append(pred, bb.Pred...)
                } else {
                    pred = append(pred, p)
                }
            }

            /* the block is gone */
            nb++
            to.Pred = pred
        }

        /* nothing merged */
        if !rt {
            break
        }

        /* update the block list and the linear order */
        cfg.Blocks = bbs
        cfg.Order = keepBlocks(cfg.Order, bbs)
    }

    /* rebuild the dominator tree */
    if nb != 0 {
        for i, bb := range cfg.Order {
            bb.Index = i
        }
        cfg.Rebuild()
        tlog.SpanFromContext(ctx).Printw("merged blocks", "func", cfg.Name, "count", nb)
    }
    return nil
}

func keepBlocks(order []*ir.Block, bbs []*ir.Block) []*ir.Block {
    ret := make([]*ir.Block, 0, len(bbs))
    ok := make(map[*ir.Block]bool, len(bbs))

    /* mark the surviving blocks */
    for _, bb := range bbs {
        ok[bb] = true
    }

    /* filter the order */
    for _, bb := range order {
        if ok[bb] {
            ret = append(ret, bb)
        }
    }
    return ret
}
