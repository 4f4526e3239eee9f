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

    `github.com/cloudwego/lsra/internal/utils`
    `github.com/cloudwego/lsra/ir`
    `tlog.app/go/tlog`
)

// collectEdgeMappings adds a move for every value live across the edge
// whose location at the end of from differs from the one at the start of to.
func (self *LinearScan) collectEdgeMappings(mr *MoveResolver, from *_Block, to *_Block) (err error) {
    to.bb.LiveIn.ForEach(func(v int) {
        if err != nil {
            return
        }

        /* the intervals at both ends of the edge */
        var src, dst *Interval
        if src, err = self.childAt(v, from.last + 1, ir.M_output); err != nil {
            return
        }
        if dst, err = self.childAt(v, to.first, ir.M_output); err != nil {
            return
        }

        /* add the mapping if the location changes */
        if src != dst && !src.sameLocation(dst) {
            mr.add(src, dst)
        }
    })
    return
}

// resolveDataFlow connects the split intervals across every control flow
// edge. Moves go before the jump of a predecessor with a single successor,
// or to the start of a successor with a single predecessor.
func (self *LinearScan) resolveDataFlow(ctx context.Context) error {
    var nb int
    self.head = make([][]_Move, len(self.blocks))
    self.tail = make([][]_Move, len(self.blocks))

    /* check every edge */
    for i := range self.blocks {
        from := &self.blocks[i]
        seen := make(map[int]bool, len(from.bb.Succ))

        /* a successor may appear more than once */
        for _, s := range from.bb.Succ {
            if seen[s.Index] {
                continue
            }

            /* collect the mappings */
            to := &self.blocks[s.Index]
            mr := self.newMoveResolver(from.last)
            seen[s.Index] = true

            /* find the moves */
            if err := self.collectEdgeMappings(mr, from, to); err != nil {
                return err
            }

            /* nothing to move */
            if mr.empty() {
                continue
            }

            /* resolve the moves */
            mv, err := mr.resolve()
            if err != nil {
                return err
            }

            /* find the insert position */
            switch {
                case len(from.bb.Succ) == 1 : self.tail[i] = append(self.tail[i], mv...)
                case len(s.Pred) == 1       : self.head[s.Index] = append(self.head[s.Index], mv...)
                default                     : return utils.EInternal(self.fn, "resolve", "critical edge bb_%d -> bb_%d", from.bb.Id, s.Id)
            }

            /* count the moves */
            nb += len(mv)
        }
    }

    /* log the moves */
    tlog.SpanFromContext(ctx).Printw("data flow moves", "func", self.fn.Name, "moves", nb)
    return nil
}

// resolveExceptionEdge builds the moves executed when ins throws. Values
// live into the handler move from their location at the throwing instruction,
// handler Phi nodes are bound to the edge arguments.
func (self *LinearScan) resolveExceptionEdge(ins *ir.Instr) ([]_Move, error) {
    h := &self.blocks[ins.Exc.Handler.Index]
    mr := self.newMoveResolver(ins.Id)

    /* Phi arguments may read the same value more than once */
    var err error
    mr.multiRead = true

    /* values live into the handler */
    h.bb.LiveIn.ForEach(func(v int) {
        var src, dst *Interval
        if err != nil {
            return
        }

        /* the intervals at both ends of the edge */
        if src, err = self.childAt(v, ins.Id, ir.M_input); err != nil {
            return
        }
        if dst, err = self.childAt(v, h.first, ir.M_output); err != nil {
            return
        }

        /* the spill slot is up to date already */
        if src == dst || (self.alwaysInMemory(src) && self.parentOf(src).canonical == dst.Slot) {
            return
        }

        /* add the mapping */
        mr.add(src, dst)
    })

    /* check for errors */
    if err != nil {
        return nil, err
    }

    /* handler Phi nodes */
    for i, phi := range h.bb.Phi {
        if i >= len(ins.Exc.Args) || !phi.Dst.IsVirtual() {
            continue
        }

        /* the interval defined by the Phi node */
        arg := ins.Exc.Args[i]
        dst, err := self.childAt(phi.Dst.Num, h.first, ir.M_output)

        /* check for errors */
        if err != nil {
            return nil, err
        }

        /* bind the argument */
        switch arg.Kind {
            case ir.K_const: {
                mr.addConst(arg, dst)
            }
            case ir.K_virtual: {
                if src, err := self.childAt(arg.Num, ins.Id, ir.M_input); err != nil {
                    return nil, err
                } else {
                    mr.add(src, dst)
                }
            }
        }
    }

    /* resolve the moves */
    if mr.empty() {
        return nil, nil
    } else {
        return mr.resolve()
    }
}

// resolveExceptionEdges computes the entry moves of every exception edge.
func (self *LinearScan) resolveExceptionEdges(ctx context.Context) error {
    var nb int
    self.exc = make(map[*ir.Instr][]_Move)

    /* check every throwing instruction */
    for _, b := range self.blocks {
        for _, ins := range b.bb.Ins {
            if ins.Exc == nil {
                continue
            }

            /* resolve the moves */
            mv, err := self.resolveExceptionEdge(ins)
            if err != nil {
                return err
            }

            /* save the moves */
            nb += len(mv)
            self.exc[ins] = mv
        }
    }

    /* log the moves */
    tlog.SpanFromContext(ctx).Printw("exception edge moves", "func", self.fn.Name, "moves", nb)
    return nil
}
