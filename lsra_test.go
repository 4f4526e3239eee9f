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

package lsra

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/lsra/internal/opts"
	"github.com/cloudwego/lsra/ir"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"
)

func sum(name string, n int) *ir.Func {
	fn := ir.NewFunc(name)
	acc := fn.NewVar("acc", ir.V_temp, ir.C_int)
	bb := fn.Entry().Append(&ir.Instr{Op: ir.OP_const, In: []ir.Operand{ir.Const(0, ir.C_int)}, Out: []ir.Operand{acc}})

	/* one parameter per register argument, and a call in the middle */
	for i := 0; i < n; i++ {
		x := fn.NewParam(fmt.Sprintf("a%d", i), ir.Stack(i, ir.C_int))
		bb.Append(&ir.Instr{Op: ir.OP_alu, Name: "add", In: []ir.Operand{acc, x}, Out: []ir.Operand{acc}})
		if i == n/2 {
			bb.Append(&ir.Instr{Op: ir.OP_call, Name: "f"})
		}
	}

	/* the result */
	bb.Return(acc)
	return fn
}

func TestAllocate(t *testing.T) {
	fn := sum("sum", 8)
	ret, err := Allocate(context.Background(), fn, ir.Generic(4, 0, 1), WithVerify(true))
	require.NoError(t, err)
	require.Same(t, fn, ret.Func)
	require.Equal(t, fn.Frame, ret.Frame)
	require.Equal(t, 8, fn.ArgSlots)
}

func TestAllocate_AMD64(t *testing.T) {
	fn := sum("sum_amd64", 4)
	_, err := Allocate(context.Background(), fn, AMD64(), WithVerify(true))
	require.NoError(t, err)
}

func TestAllocate_WideValues(t *testing.T) {
	fn := ir.NewFunc("wide")
	x := fn.NewWideVar("x", ir.V_temp, ir.C_int)
	y := fn.NewWideVar("y", ir.V_temp, ir.C_int)
	fn.Entry().Append(
		&ir.Instr{Op: ir.OP_const, In: []ir.Operand{ir.Const(1, ir.C_int).AsWide()}, Out: []ir.Operand{x}},
		&ir.Instr{Op: ir.OP_call, Name: "f"},
		&ir.Instr{Op: ir.OP_alu, Name: "add128", In: []ir.Operand{x, x}, Out: []ir.Operand{y}},
	).Return(y)

	/* double-width integers take a register pair on amd64 */
	_, err := Allocate(context.Background(), fn, AMD64(), WithVerify(true))
	require.NoError(t, err)
	for _, bb := range fn.Blocks {
		for _, ins := range bb.Ins {
			ins.Visit(func(op *ir.Operand, _ ir.Mode) {
				if op.IsFixed() && op.Wide {
					require.True(t, op.Pair, "%s", ins)
				}
			})
		}
	}
}

func TestAllocate_Malformed(t *testing.T) {
	fn := ir.NewFunc("malformed")
	x := fn.NewVar("x", ir.V_temp, ir.C_int)
	fn.Entry().Return(x)

	/* read of an undefined temp */
	_, err := Allocate(context.Background(), fn, ir.Generic(2, 0, 0))
	require.Error(t, err)
	require.True(t, IsBailout(err))

	/* the concrete error is preserved through the wrapping */
	var e MalformedInputError
	require.True(t, errors.As(err, &e))
	require.Equal(t, "malformed", e.Func)
}

func TestAllocate_Exhausted(t *testing.T) {
	fn := ir.NewFunc("exhausted")
	x := fn.NewVar("x", ir.V_temp, ir.C_int)
	fn.Entry().Append(
		&ir.Instr{Op: ir.OP_const, In: []ir.Operand{ir.Const(1, ir.C_int)}, Out: []ir.Operand{x}},
		&ir.Instr{Op: ir.OP_call, Name: "f"},
	).Return(x)

	/* nothing survives the call, and the frame can not hold it either */
	opt := Option(func(o *opts.Options) { o.MaxSpillSlots = -1 })
	_, err := Allocate(context.Background(), fn, ir.Generic(2, 0, 0), opt)
	require.True(t, IsBailout(err))
	var e AllocationExhaustedError
	require.True(t, errors.As(err, &e), "%v", err)
}

func TestAllocateAll(t *testing.T) {
	var fns []*ir.Func
	for i := 0; i < 16; i++ {
		fns = append(fns, sum(fmt.Sprintf("sum_%d", i), i+1))
	}

	/* a broken function among healthy ones */
	bad := ir.NewFunc("bad")
	bad.Entry().Return(bad.NewVar("x", ir.V_temp, ir.C_int))
	fns = append(fns, bad)

	/* only the broken function fails */
	ret := AllocateAll(context.Background(), fns, ir.Generic(4, 0, 2), WithWorkers(4), WithVerify(true))
	require.Len(t, ret, len(fns))
	for i, r := range ret[:16] {
		require.NoError(t, r.Err, "sum_%d", i)
		require.Same(t, fns[i], r.Result.Func)
	}
	require.Error(t, ret[16].Err)
	require.Nil(t, ret[16].Result)
	require.True(t, IsBailout(ret[16].Err))
}

func TestIsBailout(t *testing.T) {
	require.False(t, IsBailout(nil))
	require.False(t, IsBailout(errors.New("unrelated")))
	require.True(t, IsBailout(InternalConsistencyError{Func: "f", Pass: "p"}))
	require.True(t, IsBailout(errors.Wrap(AllocationExhaustedError{Func: "f"}, "wrapped")))
}

func TestOptions(t *testing.T) {
	require.Panics(t, func() { WithMaxSpillSlots(-1) })
	require.Panics(t, func() { WithMaxVirtualRegs(8) })
	require.Panics(t, func() { WithWorkers(0) })
	require.Panics(t, func() { WithMaxLivenessIterations(-1) })
	require.NotPanics(t, func() { WithMaxVirtualRegs(0) })

	/* setters apply in order */
	o := options([]Option{WithMaxSpillSlots(10), WithVerify(false), WithMergeBlocks(false), WithMaxSpillSlots(20)})
	require.Equal(t, 20, o.MaxSpillSlots)
	require.False(t, o.Verify)
	require.False(t, o.MergeBlocks)

	/* global defaults */
	old := SetMaxSpillSlots(100)
	defer SetMaxSpillSlots(old)
	require.Equal(t, 100, options(nil).MaxSpillSlots)
}
