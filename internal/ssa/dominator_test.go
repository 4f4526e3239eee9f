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
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/stretchr/testify/require`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

type _TestGraph [][]int

func (self _TestGraph) Len() int         { return len(self) }
func (self _TestGraph) Entry() int       { return 0 }
func (self _TestGraph) Succ(n int) []int { return self[n] }

// randomGraph builds a graph where nothing flows back into the entry, like
// every function CFG.
func randomGraph(f *gofakeit.Faker, n int) _TestGraph {
    ret := make(_TestGraph, n)
    for i := range ret {
        for k := f.Number(0, 3); k > 0 && n > 1; k-- {
            ret[i] = append(ret[i], f.Number(1, n - 1))
        }
    }
    return ret
}

// reachable marks every node reachable from the entry.
func (self _TestGraph) reachable() []bool {
    ret := make([]bool, len(self))
    stack := []int { 0 }
    for len(stack) != 0 {
        n := stack[len(stack) - 1]
        stack = stack[:len(stack) - 1]
        if !ret[n] {
            ret[n] = true
            stack = append(stack, self[n]...)
        }
    }
    return ret
}

// gonumIdoms computes the immediate dominators with the gonum implementation.
func (self _TestGraph) gonumIdoms() []int {
    g := simple.NewDirectedGraph()
    for i := range self {
        g.AddNode(simple.Node(i))
    }

    /* gonum graphs have no self loops and no parallel edges */
    for i, ss := range self {
        for _, s := range ss {
            if s != i && !g.HasEdgeFromTo(int64(i), int64(s)) {
                g.SetEdge(simple.Edge { F: simple.Node(i), T: simple.Node(s) })
            }
        }
    }

    /* the dominator tree */
    ret := make([]int, len(self))
    tree := flow.Dominators(simple.Node(0), g)
    for i := range ret {
        if d := tree.DominatorOf(int64(i)); d != nil {
            ret[i] = int(d.ID())
        } else {
            ret[i] = -1
        }
    }
    return ret
}

func TestDominators_Diamond(t *testing.T) {
    g := _TestGraph {
        0: { 1, 2 },
        1: { 3 },
        2: { 3 },
        3: {},
    }

    /* immediate dominators */
    d := BuildDominators(g)
    require.Equal(t, 0, d.Idom(0))
    require.Equal(t, 0, d.Idom(1))
    require.Equal(t, 0, d.Idom(2))
    require.Equal(t, 0, d.Idom(3))
    require.ElementsMatch(t, []int { 1, 2, 3 }, d.Children(0))

    /* the join is in the frontier of both branches */
    require.Equal(t, []int { 3 }, d.Frontier(1))
    require.Equal(t, []int { 3 }, d.Frontier(2))
    require.Empty(t, d.Frontier(0))
    require.True(t, d.Dominates(0, 3))
    require.False(t, d.StrictlyDominates(1, 3))
}

func TestDominators_Loop(t *testing.T) {
    g := _TestGraph {
        0: { 1 },
        1: { 2, 3 },
        2: { 1 },
        3: {},
    }

    /* the header is in its own frontier through the back edge */
    d := BuildDominators(g)
    require.Equal(t, 1, d.Idom(2))
    require.Equal(t, 1, d.Idom(3))
    require.Equal(t, []int { 1 }, d.Frontier(2))
    require.Equal(t, []int { 1 }, d.Frontier(1))
}

func TestDominators_Unreachable(t *testing.T) {
    g := _TestGraph {
        0: {},
        1: { 0 },
    }
    d := BuildDominators(g)
    require.True(t, d.Reachable(0))
    require.False(t, d.Reachable(1))
    require.Equal(t, -1, d.Idom(1))
}

func TestDominators_MatchesGonum(t *testing.T) {
    f := gofakeit.New(7)
    for i := 0; i < 500; i++ {
        g := randomGraph(f, f.Number(1, 24))
        d := BuildDominators(g)
        r := g.reachable()
        want := g.gonumIdoms()

        /* the entry dominates itself, gonum leaves it without a dominator */
        for n := range g {
            switch {
                case n == 0 : require.Equal(t, 0, d.Idom(n))
                case !r[n]  : require.False(t, d.Reachable(n), "%v", g)
                default     : require.Equal(t, want[n], d.Idom(n), "node %d of %v", n, g)
            }
        }
    }
}

func TestDominators_FrontierDefinition(t *testing.T) {
    f := gofakeit.New(11)
    for i := 0; i < 200; i++ {
        g := randomGraph(f, f.Number(1, 16))
        d := BuildDominators(g)

        /* DF(n) = { y | n dominates a predecessor of y, and does not strictly dominate y } */
        for n := range g {
            if !d.Reachable(n) {
                continue
            }
            var want []int
            seen := make(map[int]bool)
            for p, ss := range g {
                if !d.Reachable(p) || !d.Dominates(n, p) {
                    continue
                }
                for _, y := range ss {
                    if !d.StrictlyDominates(n, y) && !seen[y] {
                        seen[y] = true
                        want = append(want, y)
                    }
                }
            }
            require.ElementsMatch(t, want, d.Frontier(n), "node %d of %v", n, g)
        }
    }
}
