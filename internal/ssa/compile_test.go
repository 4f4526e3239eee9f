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
    `bytes`
    `context`
    `testing`

    `github.com/cloudwego/lsra/ir`
    `github.com/stretchr/testify/require`
    `tlog.app/go/errors`
)

func alu(name string, out ir.Operand, in ...ir.Operand) *ir.Instr {
    return &ir.Instr { Op: ir.OP_alu, Name: name, In: in, Out: []ir.Operand { out } }
}

func constant(out ir.Operand, v int64) *ir.Instr {
    return &ir.Instr { Op: ir.OP_const, In: []ir.Operand { ir.Const(v, out.Class) }, Out: []ir.Operand { out } }
}

// requireSSA checks that every variable was renamed and that ordinary
// blocks have no Phi nodes left.
func requireSSA(t *testing.T, fn *ir.Func) {
    for _, bb := range fn.Blocks {
        if !bb.Handler {
            require.Empty(t, bb.Phi, "bb_%d", bb.Id)
        }
        for _, ins := range bb.Ins {
            ins.Visit(func(op *ir.Operand, _ ir.Mode) {
                require.False(t, op.IsVar(), "variable left in %s", ins)
            })
        }
    }
}

// definitions counts the definitions of every virtual register.
func definitions(fn *ir.Func) map[int]int {
    ret := make(map[int]int)
    for _, bb := range fn.Blocks {
        for _, phi := range bb.Phi {
            ret[phi.Dst.Num]++
        }
        for _, ins := range bb.Ins {
            for _, op := range ins.Out {
                if op.IsVirtual() {
                    ret[op.Num]++
                }
            }
        }
    }
    return ret
}

func diamond() (*ir.Func, ir.Operand) {
    fn := ir.NewFunc("diamond")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)
    c := fn.NewParam("c", ir.Fixed(0, ir.C_int))

    /* the blocks */
    entry := fn.Entry()
    left := fn.NewBlock()
    right := fn.NewBlock()
    join := fn.NewBlock()

    /* x has a different definition on each side */
    entry.Branch(c, left, right)
    left.Append(constant(x, 1)).Jump(join)
    right.Append(constant(x, 2)).Jump(join)
    join.Return(x)
    return fn, x
}

func TestCompile_Diamond(t *testing.T) {
    fn, _ := diamond()
    cfg, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)

    /* the join is in the frontier of both sides */
    require.Equal(t, []*ir.Block { fn.Blocks[3] }, cfg.DominanceFrontier[1])
    require.Equal(t, []*ir.Block { fn.Blocks[3] }, cfg.DominanceFrontier[2])
    require.Same(t, fn.Blocks[0], cfg.DominatedBy[3])

    /* the Phi node became one copy per side */
    tail := func(bb *ir.Block) *ir.Instr { return bb.Ins[len(bb.Ins) - 2] }
    require.True(t, tail(fn.Blocks[1]).IsMove())
    require.True(t, tail(fn.Blocks[2]).IsMove())
    require.Equal(t, tail(fn.Blocks[1]).Out[0], tail(fn.Blocks[2]).Out[0])
    require.Equal(t, tail(fn.Blocks[1]).Out[0], fn.Blocks[3].Term().In[0])
}

func TestCFG_PostOrder(t *testing.T) {
    fn, _ := diamond()
    cfg, err := Compile(context.Background(), fn)
    require.NoError(t, err)

    /* every block comes after the blocks it dominates, the entry is last */
    order := cfg.PostOrder()
    require.Len(t, order, len(fn.Blocks))
    require.Same(t, fn.Entry(), order[len(order) - 1])
    for i, a := range order {
        for _, b := range order[i + 1:] {
            require.False(t, cfg.StrictlyDominates(a, b), "bb_%d before bb_%d", a.Id, b.Id)
        }
    }
}

func TestCompile_SingleAssignment(t *testing.T) {
    fn := ir.NewFunc("reassign")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)
    fn.Entry().Append(
        constant(x, 1),
        alu("add", x, x, x),
        alu("add", x, x, x),
    ).Return(x)

    /* every redefinition gets its own virtual register */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)
    for v, n := range definitions(fn) {
        require.Equal(t, 1, n, "v%d", v)
    }
}

func TestCompile_RemovesUnreachable(t *testing.T) {
    fn := ir.NewFunc("dead")
    dead := fn.NewBlock()
    fn.Entry().Return()
    dead.Return()

    /* only the entry survives */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    require.Len(t, fn.Blocks, 1)
    require.Len(t, fn.Order, 1)
}

func TestCompile_UndefinedRead(t *testing.T) {
    fn := ir.NewFunc("undefined")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)
    y := fn.NewVar("y", ir.V_temp, ir.C_int)
    fn.Entry().Append(alu("neg", y, x)).Return(y)

    /* temps must be defined before they are read */
    _, err := Compile(context.Background(), fn)
    var e ir.MalformedInputError
    require.True(t, errors.As(err, &e), "%v", err)
}

func TestCompile_PartiallyDefined(t *testing.T) {
    fn := ir.NewFunc("partial")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)
    c := fn.NewParam("c", ir.Fixed(0, ir.C_int))

    /* x is only defined on one side of the branch */
    entry := fn.Entry()
    left := fn.NewBlock()
    join := fn.NewBlock()
    entry.Branch(c, left, join)
    left.Append(constant(x, 1)).Jump(join)
    join.Return(x)

    /* the join merges a value with no reaching definition */
    _, err := Compile(context.Background(), fn)
    var e ir.MalformedInputError
    require.True(t, errors.As(err, &e), "%v", err)
}

func TestCompile_ZeroesLocals(t *testing.T) {
    fn := ir.NewFunc("locals")
    x := fn.NewVar("x", ir.V_local, ir.C_int)
    fn.Entry().Return(x)

    /* locals start as zero */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)
    ins := fn.Entry().Ins[0]
    require.Equal(t, ir.OP_const, ins.Op)
    require.Equal(t, int64(0), ins.In[0].Val)
}

func TestCompile_MismatchedClass(t *testing.T) {
    fn := ir.NewFunc("class")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)
    y := x
    y.Class = ir.C_float
    fn.Entry().Append(constant(x, 1)).Return(y)

    /* a variable has exactly one register class */
    _, err := Compile(context.Background(), fn)
    var e ir.MalformedInputError
    require.True(t, errors.As(err, &e), "%v", err)
}

func TestCompile_SplitsCriticalEdges(t *testing.T) {
    fn := ir.NewFunc("critical")
    c := fn.NewParam("c", ir.Fixed(0, ir.C_int))

    /* bb_0 -> bb_2 and bb_1 -> bb_2 are critical */
    entry := fn.Entry()
    a := fn.NewBlock()
    b := fn.NewBlock()
    d := fn.NewBlock()
    entry.Branch(c, a, b)
    a.Branch(c, b, d)
    b.Return()
    d.Return()

    /* no block with several successors reaches a block with several predecessors */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    require.Len(t, fn.Blocks, 6)
    for _, bb := range fn.Blocks {
        if len(bb.Succ) > 1 {
            for _, s := range bb.Succ {
                require.Len(t, s.Pred, 1, "bb_%d -> bb_%d", bb.Id, s.Id)
            }
        }
    }
}

func TestCompile_LoopLayout(t *testing.T) {
    fn := ir.NewFunc("loop")
    i := fn.NewVar("i", ir.V_temp, ir.C_int)

    /* the blocks */
    entry := fn.Entry()
    exit := fn.NewBlock()
    head := fn.NewBlock()
    body := fn.NewBlock()

    /* a counting loop, the exit block is created before the loop on purpose */
    entry.Append(constant(i, 10)).Jump(head)
    head.Branch(i, body, exit)
    body.Append(alu("dec", i, i)).Jump(head)
    exit.Return()

    /* compile */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)

    /* linear order starts at the entry and keeps the loop together */
    require.Len(t, fn.Order, len(fn.Blocks))
    require.Same(t, entry, fn.Order[0])
    require.Same(t, head, fn.Order[1])
    require.Same(t, body, fn.Order[2])
    require.Same(t, exit, fn.Order[3])
    for n, bb := range fn.Order {
        require.Equal(t, n, bb.Index)
    }

    /* loop structure */
    require.True(t, head.Header)
    require.True(t, body.LoopEnd)
    require.Equal(t, 1, head.Depth)
    require.Equal(t, 1, body.Depth)
    require.Equal(t, 0, exit.Depth)
    require.Equal(t, head.Id, body.Loop)
    require.Equal(t, -1, exit.Loop)
}

func TestCompile_ParallelCopies(t *testing.T) {
    fn := ir.NewFunc("swap")
    a := fn.NewVar("a", ir.V_temp, ir.C_int)
    b := fn.NewVar("b", ir.V_temp, ir.C_int)
    c := fn.NewVar("c", ir.V_temp, ir.C_int)

    /* the blocks */
    entry := fn.Entry()
    head := fn.NewBlock()
    body := fn.NewBlock()
    exit := fn.NewBlock()

    /* rotate three values on every iteration */
    entry.Append(constant(a, 1), constant(b, 2), constant(c, 3)).Jump(head)
    head.Branch(c, body, exit)
    body.Append(
        &ir.Instr { Op: ir.OP_move, In: []ir.Operand { a }, Out: []ir.Operand { c } },
        &ir.Instr { Op: ir.OP_move, In: []ir.Operand { b }, Out: []ir.Operand { a } },
        &ir.Instr { Op: ir.OP_move, In: []ir.Operand { c }, Out: []ir.Operand { b } },
    ).Jump(head)
    exit.Return(a, b)

    /* the copies must preserve the values, whatever their order */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)
}

func TestCompile_HandlerPhi(t *testing.T) {
    fn := ir.NewFunc("handler")
    x := fn.NewVar("x", ir.V_temp, ir.C_int)

    /* the blocks */
    entry := fn.Entry()
    handler := fn.NewBlock()

    /* x changes between the two throwing calls */
    c1 := &ir.Instr { Op: ir.OP_call, Name: "f" }
    c2 := &ir.Instr { Op: ir.OP_call, Name: "g" }
    entry.Append(constant(x, 1), c1, constant(x, 2), c2).Return(x)
    fn.Throws(entry, c1, handler)
    fn.Throws(entry, c2, handler)
    handler.Return(x)

    /* the handler keeps its Phi node, every edge binds its own value */
    _, err := Compile(context.Background(), fn)
    require.NoError(t, err)
    requireSSA(t, fn)
    require.Len(t, handler.Phi, 1)
    require.Len(t, c1.Exc.Args, 1)
    require.Len(t, c2.Exc.Args, 1)
    require.NotEqual(t, c1.Exc.Args[0], c2.Exc.Args[0])
    require.Equal(t, handler.Phi[0].Dst, handler.Term().In[0])
}

func TestWriteDot(t *testing.T) {
    fn, _ := diamond()
    cfg, err := Compile(context.Background(), fn)
    require.NoError(t, err)

    /* every block and edge is rendered */
    buf := new(bytes.Buffer)
    require.NoError(t, WriteDot(buf, cfg, ir.Generic(2, 0, 0)))
    require.Contains(t, buf.String(), "digraph CFG {")
    require.Contains(t, buf.String(), "bb_0 -> bb_1")
    require.Contains(t, buf.String(), "bb_2 -> bb_3")
}

func TestBlockMerge(t *testing.T) {
    fn, _ := diamond()
    cfg, err := Compile(context.Background(), fn)
    require.NoError(t, err)

    /* strip the copies, leaving both sides with a lone jump */
    for _, bb := range fn.Blocks[1:3] {
        bb.Ins = bb.Ins[len(bb.Ins) - 1:]
    }

    /* both sides are merged into the join */
    require.NoError(t, new(BlockMerge).Apply(context.Background(), cfg))
    require.Len(t, fn.Blocks, 2)
    require.Len(t, fn.Order, 2)
    require.Equal(t, []*ir.Block { fn.Blocks[1], fn.Blocks[1] }, fn.Entry().Succ)
    require.Equal(t, 1, fn.Order[1].Index)
}
