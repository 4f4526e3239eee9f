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

package main

import (
	"context"
	"testing"

	"github.com/cloudwego/lsra"
	"github.com/cloudwego/lsra/abi"
	"github.com/cloudwego/lsra/ir"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	p := abi.AMD64(abi.SysV)
	fn, err := LoadFile("testdata/max.json", p)
	require.NoError(t, err)
	require.Equal(t, "max", fn.Name)
	require.Len(t, fn.Blocks, 5)
	require.Len(t, fn.Params, 2)
	require.True(t, fn.Blocks[4].Handler)
	require.NotNil(t, fn.Blocks[3].Ins[0].Exc)
	require.NoError(t, fn.Validate())

	/* the loaded function can be allocated */
	_, err = lsra.Allocate(context.Background(), fn, p, lsra.WithVerify(true))
	require.NoError(t, err)
}

func TestLoad_Operands(t *testing.T) {
	p := ir.Generic(4, 2, 2)
	fd := &FuncDesc{
		Name: "operands",
		Vars: []VarDesc{
			{Name: "s", Kind: "param", Loc: "[sp+1]"},
			{Name: "f", Kind: "param", Class: "float", Loc: "%f0"},
			{Name: "w", Kind: "local", Wide: true},
		},
		Blocks: []BlockDesc{
			{Term: InstrDesc{Op: "ret", In: []string{"s", "f", "w", "$0x10", "%r1"}}},
		},
	}

	/* every operand form */
	fn, err := Load(fd, p)
	require.NoError(t, err)
	require.Equal(t, 2, fn.ArgSlots)
	in := fn.Entry().Term().In
	require.Equal(t, ir.C_float, in[1].Class)
	require.True(t, in[2].Wide)
	require.Equal(t, int64(16), in[3].Val)
	require.Equal(t, ir.Fixed(1, ir.C_int), in[4])
}

func TestLoad_Errors(t *testing.T) {
	p := ir.Generic(2, 0, 0)
	missing := 5
	for name, fd := range map[string]*FuncDesc{
		"no blocks":   {Name: "empty"},
		"bad opcode":  {Blocks: []BlockDesc{{Ins: []InstrDesc{{Op: "frobnicate"}}}}},
		"bad succ":    {Blocks: []BlockDesc{{Term: InstrDesc{Op: "jump", Succ: []int{7}}}}},
		"bad reg":     {Vars: []VarDesc{{Name: "a", Kind: "param", Loc: "%rax"}}, Blocks: []BlockDesc{{}}},
		"bad kind":    {Vars: []VarDesc{{Name: "a", Kind: "global"}}, Blocks: []BlockDesc{{}}},
		"bad class":   {Vars: []VarDesc{{Name: "a", Class: "vector"}}, Blocks: []BlockDesc{{}}},
		"bad const":   {Blocks: []BlockDesc{{Term: InstrDesc{Op: "ret", In: []string{"$x"}}}}},
		"bad handler": {Blocks: []BlockDesc{{Ins: []InstrDesc{{Op: "call", Throws: &missing}}}}},
		"two conds":   {Blocks: []BlockDesc{{Term: InstrDesc{Op: "branch", In: []string{"$1", "$2"}}}}},
	} {
		_, err := Load(fd, p)
		require.Error(t, err, name)
	}
}
