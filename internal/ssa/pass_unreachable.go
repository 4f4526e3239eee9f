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

// Unreachable removes every block that can not be reached from the entry,
// together with the predecessor links and phi operands they contribute.
type Unreachable struct{}

func (Unreachable) Apply(ctx context.Context, cfg *CFG) error {
    var del int
    var bbs []*ir.Block

    /* keep only the reachable blocks */
    for _, bb := range cfg.Blocks {
        if cfg.Reachable(bb) {
            bbs = append(bbs, bb)
        } else {
            del++
        }
    }

    /* nothing to remove */
    if del == 0 {
        return nil
    }

    /* drop the dead predecessors */
    for _, bb := range bbs {
        var pred []*ir.Block
        var keep []bool

        /* filter the predecessor list */
        for _, p := range bb.Pred {
            ok := cfg.Reachable(p)
            keep = append(keep, ok)
            if ok { pred = append(pred, p) }
        }

        /* filter the phi operands accordingly */
        if !bb.Handler {
            for _, phi := range bb.Phi {
                in := make([]ir.Operand, 0, len(pred))
                for i, v := range phi.In {
                    if keep[i] {
                        in = append(in, v)
                    }
                }
                phi.In = in
            }
        }

        /* update the predecessors */
        bb.Pred = pred
    }

    /* rebuild the dominator tree */
    tlog.SpanFromContext(ctx).Printw("removed unreachable blocks", "func", cfg.Name, "count", del)
    cfg.Blocks = bbs
    cfg.Rebuild()
    return nil
}
