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

type _CrEdge struct {
    to   *ir.Block
    from *ir.Block
    succ int
}

// SplitCritical splits critical edges (those that go from a block with
// more than one outedge to a block with more than one inedge) by inserting
// an empty block.
//
// The data-flow resolver wants a critical-edge-free CFG so it always has a
// single place to insert the moves of an edge.
type SplitCritical struct{}

func (SplitCritical) Apply(ctx context.Context, cfg *CFG) error {
    var edges []_CrEdge

    /* find all critical edges */
    for _, bb := range cfg.PostOrder() {
        if len(bb.Succ) > 1 {
            for i, s := range bb.Succ {
                if len(s.Pred) > 1 {
                    edges = append(edges, _CrEdge {
                        to   : s,
                        from : bb,
                        succ : i,
                    })
                }
            }
        }
    }

    /* insert empty block between the edges */
    for _, e := range edges {
        bb := cfg.CreateBlock()
        bb.Ins = []*ir.Instr { { Op: ir.OP_jump } }
        bb.Succ = []*ir.Block { e.to }
        bb.Pred = []*ir.Block { e.from }
        bb.Depth = e.from.Depth

        /* update the successor */
        e.from.Succ[e.succ] = bb

        /* update the predecessor, Phi operands stay aligned with it */
        if i := e.to.PredIndex(e.from); i >= 0 {
            e.to.Pred[i] = bb
        }
    }

    /* rebuild the CFG if needed */
    if len(edges) != 0 {
        tlog.SpanFromContext(ctx).Printw("split critical edges", "func", cfg.Name, "edges", len(edges))
        cfg.Rebuild()
    }
    return nil
}
