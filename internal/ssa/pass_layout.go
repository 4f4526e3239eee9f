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
    `github.com/oleiade/lane`
    `nikand.dev/go/heap`
    `tlog.app/go/tlog`
)

type _Loop struct {
    head *ir.Block
    body map[int]bool
}

// Layout finds the natural loops of the CFG and flattens it into the linear
// block order used for numbering and interval construction.
type Layout struct{}

func successors(bb *ir.Block) []*ir.Block {
    return append(append([]*ir.Block(nil), bb.Succ...), bb.Handlers()...)
}

func (self Layout) loops(cfg *CFG) (map[int]*_Loop, map[[2]int]bool) {
    back := make(map[[2]int]bool)
    loops := make(map[int]*_Loop)

    /* an edge is a back edge if the head dominates the tail */
    for _, bb := range cfg.Blocks {
        for _, s := range successors(bb) {
            if !cfg.Dominates(s, bb) {
                continue
            }

            /* mark the back edge */
            bb.LoopEnd = true
            back[[2]int { bb.Id, s.Id }] = true

            /* find or create the loop */
            lp, ok := loops[s.Id]
            if !ok {
                lp = &_Loop { head: s, body: map[int]bool { s.Id: true } }
                loops[s.Id] = lp
            }

            /* the natural loop is everything that reaches the tail without passing the head */
            q := lane.NewQueue()
            for q.Enqueue(bb); !q.Empty(); {
                p := q.Dequeue().(*ir.Block)
                if lp.body[p.Id] {
                    continue
                }

                /* add to loop body */
                lp.body[p.Id] = true
                for _, v := range p.Pred {
                    if !lp.body[v.Id] {
                        q.Enqueue(v)
                    }
                }
            }
        }
    }
    return loops, back
}

func (self Layout) Apply(ctx context.Context, cfg *CFG) error {
    nb := len(cfg.Blocks)
    inner := make(map[int]*_Loop, nb)

    /* reset the loop information */
    for _, bb := range cfg.Blocks {
        bb.Depth = 0
        bb.Loop = -1
        bb.Header = false
        bb.LoopEnd = false
    }

    /* find all the natural loops */
    loops, back := self.loops(cfg)

    /* loop depth, and the innermost loop of every block */
    for _, lp := range loops {
        lp.head.Header = true
        for _, bb := range cfg.Blocks {
            if lp.body[bb.Id] {
                bb.Depth++
                if p := inner[bb.Id]; p == nil || len(p.body) > len(lp.body) {
                    inner[bb.Id] = lp
                }
            }
        }
    }

    /* number of unplaced forward predecessors */
    wait := make(map[int]int, nb)
    for _, bb := range cfg.Blocks {
        for _, s := range successors(bb) {
            if !back[[2]int { bb.Id, s.Id }] {
                wait[s.Id]++
            }
        }
    }

    /* deeper loops first, then keep each loop together, then by id */
    rank := func(bb *ir.Block) int {
        if lp := inner[bb.Id]; lp != nil {
            return lp.head.Id
        } else {
            return -1
        }
    }

    /* the ready list */
    order := make([]*ir.Block, 0, nb)
    placed := make(map[int]bool, nb)
    ready := heap.Heap[*ir.Block] {
        Less: func(d []*ir.Block, i int, j int) bool {
            if d[i].Depth != d[j].Depth {
                return d[i].Depth > d[j].Depth
            } else if ri, rj := rank(d[i]), rank(d[j]); ri != rj {
                return ri < rj
            } else {
                return d[i].Id < d[j].Id
            }
        },
    }

    /* topological order of the forward edges */
    for ready.Push(cfg.Entry()); len(order) != nb; {
        if ready.Len() == 0 {
            ready.Push(self.stalled(cfg, placed))
        }

        /* place the block */
        bb := ready.Pop()
        if placed[bb.Id] {
            continue
        }

        /* update its successors */
        placed[bb.Id] = true
        order = append(order, bb)

        /* successors become ready once all their forward predecessors are placed */
        for _, s := range successors(bb) {
            if !back[[2]int { bb.Id, s.Id }] {
                if wait[s.Id]--; wait[s.Id] == 0 && !placed[s.Id] {
                    ready.Push(s)
                }
            }
        }
    }

    /* assign the linear indices and the innermost loop */
    for i, bb := range order {
        bb.Index = i
        bb.Loop = rank(bb)
    }

    /* update the function */
    cfg.Order = order
    tlog.SpanFromContext(ctx).Printw("block layout", "func", cfg.Name, "blocks", nb, "loops", len(loops))
    return nil
}

// stalled picks a block to break an irreducible cycle, which has no back edge
// by the dominance definition.
func (self Layout) stalled(cfg *CFG, placed map[int]bool) *ir.Block {
    for _, bb := range cfg.Blocks {
        if placed[bb.Id] {
            continue
        }
        for _, p := range bb.Pred {
            if placed[p.Id] {
                return bb
            }
        }
    }

    /* every remaining block is disconnected, which can not happen after unreachable removal */
    for _, bb := range cfg.Blocks {
        if !placed[bb.Id] {
            return bb
        }
    }
    return nil
}
