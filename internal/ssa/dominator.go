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

/** This is an implementation of the Lengauer-Tarjan algorithm described in
 *  https://doi.org/10.1145%2F357062.357071
 */

package ssa

import (
    `github.com/oleiade/lane`
)

// Graph is the minimal view of a directed graph the dominator computation
// needs. Nodes are numbered densely from 0 to Len() - 1.
type Graph interface {
    Len() int
    Entry() int
    Succ(n int) []int
}

type _LtNode struct {
    semi     int
    node     int
    dom      int
    label    int
    parent   int
    ancestor int
    pred     []int
    bucket   []int
}

type _LengauerTarjan struct {
    nodes  []_LtNode
    vertex []int
}

type _DfsItem struct {
    node   int
    parent int
}

func newLengauerTarjan(n int) *_LengauerTarjan {
    ret := &_LengauerTarjan {
        nodes  : make([]_LtNode, 0, n),
        vertex : make([]int, n),
    }

    /* mark all vertices as unvisited */
    for i := range ret.vertex {
        ret.vertex[i] = -1
    }
    return ret
}

func (self *_LengauerTarjan) dfs(g Graph) {
    st := lane.NewStack()
    st.Push(_DfsItem { node: g.Entry(), parent: -1 })

    /* number the vertices in the order they are reached */
    for !st.Empty() {
        p := st.Pop().(_DfsItem)
        i := len(self.nodes)

        /* already visited */
        if self.vertex[p.node] >= 0 {
            continue
        }

        /* create a new node */
        self.vertex[p.node] = i
        self.nodes = append(self.nodes, _LtNode {
            semi     : i,
            node     : p.node,
            label    : i,
            parent   : p.parent,
            ancestor : -1,
        })

        /* push successors in reverse, so the first one is visited first */
        succ := g.Succ(p.node)
        for j := len(succ) - 1; j >= 0; j-- {
            if self.vertex[succ[j]] < 0 {
                st.Push(_DfsItem { node: succ[j], parent: i })
            }
        }
    }

    /* collect predecessors among the reachable vertices */
    for i := range self.nodes {
        for _, w := range g.Succ(self.nodes[i].node) {
            q := &self.nodes[self.vertex[w]]
            q.pred = append(q.pred, i)
        }
    }
}

func (self *_LengauerTarjan) eval(p int) int {
    if self.nodes[p].ancestor < 0 {
        return p
    } else {
        self.compress(p)
        return self.nodes[p].label
    }
}

func (self *_LengauerTarjan) link(p int, q int) {
    self.nodes[q].ancestor = p
}

func (self *_LengauerTarjan) compress(p int) {
    v := &self.nodes[p]
    a := &self.nodes[v.ancestor]

    /* path compression towards the root of the forest */
    if a.ancestor >= 0 {
        self.compress(v.ancestor)
        if self.nodes[a.label].semi < self.nodes[v.label].semi { v.label = a.label }
        v.ancestor = a.ancestor
    }
}

// Dominators is the dominator tree of a Graph, with pre-order timestamps for
// constant time dominance queries and the dominance frontier of every node.
// Unreachable nodes have no immediate dominator. The entry node is its own
// immediate dominator.
type Dominators struct {
    entry int
    idom  []int
    kids  [][]int
    pre   []int
    post  []int
    df    [][]int
    preds [][]int
}

// BuildDominators computes immediate dominators, timestamps and frontiers of g.
func BuildDominators(g Graph) *Dominators {
    n := g.Len()
    lt := newLengauerTarjan(n)

    /* Step 1: Carry out a depth-first search of the problem graph. Number the vertices
     * from 1 to n as they are reached during the search. Initialize the variables used
     * in succeeding steps. */
    lt.dfs(g)

    /* perform Step 2 and Step 3 simultaneously */
    for i := len(lt.nodes) - 1; i > 0; i-- {
        p := &lt.nodes[i]

        /* Step 2: Compute the semidominators of all vertices by applying Theorem 4.
         * Carry out the computation vertex by vertex in decreasing order by number. */
        for _, v := range p.pred {
            if q := lt.eval(v); lt.nodes[q].semi < p.semi {
                p.semi = lt.nodes[q].semi
            }
        }

        /* add to the bucket of it's semidominator, then link the ancestor */
        lt.nodes[p.semi].bucket = append(lt.nodes[p.semi].bucket, i)
        lt.link(p.parent, i)

        /* Step 3: Implicitly define the immediate dominator of each vertex by applying Corollary 1 */
        w := &lt.nodes[p.parent]
        for _, v := range w.bucket {
            if q := lt.eval(v); lt.nodes[q].semi < lt.nodes[v].semi {
                lt.nodes[v].dom = q
            } else {
                lt.nodes[v].dom = p.parent
            }
        }

        /* clear the bucket */
        w.bucket = w.bucket[:0]
    }

    /* Step 4: Explicitly define the immediate dominator of each vertex, carrying out the
     * computation vertex by vertex in increasing order by number. */
    for i := 1; i < len(lt.nodes); i++ {
        if p := &lt.nodes[i]; p.dom != p.semi {
            p.dom = lt.nodes[p.dom].dom
        }
    }

    /* map the dominator relations back to graph nodes */
    ret := &Dominators {
        entry : g.Entry(),
        idom  : make([]int, n),
        kids  : make([][]int, n),
        pre   : make([]int, n),
        post  : make([]int, n),
        df    : make([][]int, n),
        preds : make([][]int, n),
    }

    /* unreachable nodes have no dominator */
    for i := range ret.idom {
        ret.idom[i] = -1
    }

    /* the entry dominates itself */
    if len(lt.nodes) != 0 {
        ret.idom[ret.entry] = ret.entry
    }

    /* every other reachable node */
    for _, p := range lt.nodes[minInt(1, len(lt.nodes)):] {
        d := lt.nodes[p.dom].node
        ret.idom[p.node] = d
        ret.kids[d] = append(ret.kids[d], p.node)
    }

    /* keep reachable predecessors for the frontier computation */
    for _, p := range lt.nodes {
        for _, q := range p.pred {
            ret.preds[p.node] = append(ret.preds[p.node], lt.nodes[q].node)
        }
    }

    /* timestamps and frontiers */
    ret.number()
    ret.frontiers()
    return ret
}

func (self *Dominators) number() {
    ts := 0
    st := lane.NewStack()

    /* nothing to number */
    if self.idom[self.entry] < 0 {
        return
    }

    /* pre-order walk of the dominator tree, a negative item marks the exit of a node */
    for st.Push(self.entry); !st.Empty(); {
        p := st.Pop().(int)
        ts++

        /* leaving the subtree */
        if p < 0 {
            self.post[^p] = ts
            continue
        }

        /* entering the subtree */
        self.pre[p] = ts
        st.Push(^p)

        /* visit children */
        for i := len(self.kids[p]) - 1; i >= 0; i-- {
            st.Push(self.kids[p][i])
        }
    }
}

func (self *Dominators) frontiers() {
    for b, preds := range self.preds {
        if len(preds) < 2 {
            continue
        }

        /* walk up from every predecessor until reaching the immediate dominator of the join point */
        for _, p := range preds {
            for r := p; r != self.idom[b]; r = self.idom[r] {
                if n := len(self.df[r]); n != 0 && self.df[r][n - 1] == b {
                    break
                }

                /* add to frontier */
                self.df[r] = append(self.df[r], b)

                /* the entry block has nowhere further to go */
                if r == self.entry {
                    break
                }
            }
        }
    }
}

// Entry returns the root of the tree.
func (self *Dominators) Entry() int {
    return self.entry
}

// Reachable reports whether n is reachable from the entry.
func (self *Dominators) Reachable(n int) bool {
    return n >= 0 && n < len(self.idom) && self.idom[n] >= 0
}

// Idom returns the immediate dominator of n, or -1 if n is unreachable.
func (self *Dominators) Idom(n int) int {
    return self.idom[n]
}

// Children returns the nodes immediately dominated by n.
func (self *Dominators) Children(n int) []int {
    return self.kids[n]
}

// Frontier returns the dominance frontier of n.
func (self *Dominators) Frontier(n int) []int {
    return self.df[n]
}

// Dominates reports whether a dominates b. Every node dominates itself.
func (self *Dominators) Dominates(a int, b int) bool {
    return self.Reachable(a) && self.Reachable(b) && self.pre[a] <= self.pre[b] && self.post[b] <= self.post[a]
}

// StrictlyDominates reports whether a dominates b and a != b.
func (self *Dominators) StrictlyDominates(a int, b int) bool {
    return a != b && self.Dominates(a, b)
}

func minInt(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}
