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
)

// CFG wraps a function together with its dominator tree. Exception edges
// count as ordinary edges for dominance.
type CFG struct {
    *ir.Func
    Dom               *Dominators
    DominatedBy       map[int]*ir.Block
    DominatorOf       map[int][]*ir.Block
    DominanceFrontier map[int][]*ir.Block
    index             map[int]int
}

// NewCFG builds the dominator tree of fn.
func NewCFG(fn *ir.Func) *CFG {
    ret := &CFG { Func: fn }
    ret.Rebuild()
    return ret
}

type _BlockGraph struct {
    bbs  []*ir.Block
    succ [][]int
}

func newBlockGraph(bbs []*ir.Block, index map[int]int) *_BlockGraph {
    ret := &_BlockGraph {
        bbs  : bbs,
        succ : make([][]int, len(bbs)),
    }

    /* ordinary successors first, then exception handlers */
    for i, bb := range bbs {
        for _, s := range bb.Succ {
            ret.succ[i] = append(ret.succ[i], index[s.Id])
        }
        for _, h := range bb.Handlers() {
            ret.succ[i] = append(ret.succ[i], index[h.Id])
        }
    }
    return ret
}

func (self *_BlockGraph) Len() int         { return len(self.bbs) }
func (self *_BlockGraph) Entry() int       { return 0 }
func (self *_BlockGraph) Succ(n int) []int { return self.succ[n] }

// Rebuild recomputes the dominator tree after the CFG has been modified.
func (self *CFG) Rebuild() {
    self.index = make(map[int]int, len(self.Blocks))
    self.DominatedBy = make(map[int]*ir.Block, len(self.Blocks))
    self.DominatorOf = make(map[int][]*ir.Block, len(self.Blocks))
    self.DominanceFrontier = make(map[int][]*ir.Block, len(self.Blocks))

    /* dense block numbering */
    for i, bb := range self.Blocks {
        self.index[bb.Id] = i
    }

    /* compute the dominators */
    g := newBlockGraph(self.Blocks, self.index)
    self.Dom = BuildDominators(g)

    /* map the dominator relations back to blocks */
    for i, bb := range self.Blocks {
        if !self.Dom.Reachable(i) {
            bb.Idom = nil
            continue
        }

        /* immediate dominator, the entry block dominates itself */
        bb.Idom = self.Blocks[self.Dom.Idom(i)]
        self.DominatedBy[bb.Id] = bb.Idom

        /* dominator tree children */
        for _, v := range self.Dom.Children(i) {
            self.DominatorOf[bb.Id] = append(self.DominatorOf[bb.Id], self.Blocks[v])
        }

        /* dominance frontier */
        for _, v := range self.Dom.Frontier(i) {
            self.DominanceFrontier[bb.Id] = append(self.DominanceFrontier[bb.Id], self.Blocks[v])
        }
    }
}

// Reachable reports whether bb is part of the dominator tree.
func (self *CFG) Reachable(bb *ir.Block) bool {
    i, ok := self.index[bb.Id]
    return ok && self.Blocks[i] == bb && self.Dom.Reachable(i)
}

// Check fails if bb was excluded from the dominator computation.
func (self *CFG) Check(pass string, bb *ir.Block) error {
    if self.Reachable(bb) {
        return nil
    } else {
        return utils.EInternal(self.Func, pass, "bb_%d is not part of the dominator tree", bb.Id)
    }
}

// Dominates reports whether a dominates b.
func (self *CFG) Dominates(a *ir.Block, b *ir.Block) bool {
    return self.Reachable(a) && self.Reachable(b) && self.Dom.Dominates(self.index[a.Id], self.index[b.Id])
}

// StrictlyDominates reports whether a dominates b and a != b.
func (self *CFG) StrictlyDominates(a *ir.Block, b *ir.Block) bool {
    return a != b && self.Dominates(a, b)
}

// CreateBlock adds a new empty block to the function.
func (self *CFG) CreateBlock() *ir.Block {
    return self.NewBlock()
}
