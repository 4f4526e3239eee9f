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
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cloudwego/lsra/abi"
	"github.com/cloudwego/lsra/internal/opts"
	"github.com/cloudwego/lsra/internal/regalloc"
	"github.com/cloudwego/lsra/internal/ssa"
	"github.com/cloudwego/lsra/ir"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Result is the outcome of a successful allocation.
type Result struct {
	Func    *ir.Func
	Frame   int
	Spilled int
	Moves   int
}

// Outcome is the result of one function of AllocateAll.
type Outcome struct {
	Result *Result
	Err    error
}

// AMD64 returns the register file of the host for the System V calling convention.
func AMD64() *ir.Platform {
	return abi.AMD64(abi.SysV)
}

// NewPlatform builds a custom register file.
func NewPlatform(name string, regs ...ir.RegInfo) *ir.Platform {
	return ir.NewPlatform(name, regs...)
}

func options(fv []Option) opts.Options {
	ret := opts.GetDefaultOptions()
	for _, fn := range fv {
		fn(&ret)
	}
	return ret
}

// Allocate rewrites every variable and virtual register of fn to a physical
// register or a stack slot of platform p. The function is modified in place,
// and is left in an unspecified state when an error is returned.
func Allocate(ctx context.Context, fn *ir.Func, p *ir.Platform, opt ...Option) (*Result, error) {
	o := options(opt)
	return allocate(ctx, fn, p, &o)
}

func allocate(ctx context.Context, fn *ir.Func, p *ir.Platform, o *opts.Options) (_ *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lsra: allocate", "func", fn.Name)
	defer tr.Finish("err", &err)

	/* bring the function into SSA form */
	cfg, err := ssa.Compile(ctx, fn)
	if err != nil {
		return nil, errors.Wrap(err, "compile %s", fn.Name)
	}

	/* allocate the registers */
	st, err := regalloc.Allocate(ctx, fn, p, o)
	if err != nil {
		return nil, errors.Wrap(err, "allocate %s", fn.Name)
	}

	/* remove the blocks left empty */
	if o.MergeBlocks {
		if err = new(ssa.BlockMerge).Apply(ctx, cfg); err != nil {
			return nil, errors.Wrap(err, "merge blocks of %s", fn.Name)
		}
	}

	/* build the result */
	tr.Printw("allocation done", "stats", st.String())
	return &Result{
		Func:    fn,
		Frame:   fn.Frame,
		Spilled: st.Spilled,
		Moves:   st.Moves,
	}, nil
}

// AllocateAll allocates every function on a pool of workers. Functions are
// independent of each other, a failure only affects its own outcome.
func AllocateAll(ctx context.Context, fns []*ir.Func, p *ir.Platform, opt ...Option) []Outcome {
	wg := sync.WaitGroup{}
	ret := make([]Outcome, len(fns))

	/* the worker pool */
	o := options(opt)
	nw := o.Workers

	/* at least one worker */
	if nw <= 0 {
		nw = 1
	}

	/* the pool is private to this call */
	pool := gopool.NewPool("lsra", int32(nw), gopool.NewConfig())

	/* a panic is a bug in the allocator, report it on the function */
	run := func(i int) {
		defer wg.Done()
		defer func() {
			if v := recover(); v != nil {
				ret[i].Err = ir.InternalConsistencyError{Func: fns[i].Name, Pass: "allocate", Reason: fmt.Sprintf("panic: %v", v)}
			}
		}()

		/* allocate the function */
		ret[i].Result, ret[i].Err = allocate(ctx, fns[i], p, &o)
	}

	/* submit every function */
	for i := range fns {
		wg.Add(1)
		i := i
		pool.CtxGo(ctx, func() { run(i) })
	}

	/* wait for all of them */
	wg.Wait()
	return ret
}
