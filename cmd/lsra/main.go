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
	"fmt"
	"os"

	"github.com/cloudwego/lsra"
	"github.com/cloudwego/lsra/abi"
	"github.com/cloudwego/lsra/internal/opts"
	"github.com/cloudwego/lsra/internal/regalloc"
	"github.com/cloudwego/lsra/internal/ssa"
	"github.com/cloudwego/lsra/ir"
	"github.com/xyproto/env/v2"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

func main() {
	runCmd := &cli.Command{
		Name:        "run",
		Description: "allocate registers of the functions and print the result",
		Action:      runAct,
		Args:        cli.Args{},
	}

	dotCmd := &cli.Command{
		Name:        "dot",
		Description: "print the allocated control flow graph of a function in graphviz format",
		Action:      dotAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "lsra",
		Description: "lsra is a linear scan register allocator driver, the target is selected with LSRA_PLATFORM (amd64, goregabi, generic) and LSRA_REGS",
		Commands: []*cli.Command{
			runCmd,
			dotCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func platform() (*ir.Platform, error) {
	switch name := env.Str("LSRA_PLATFORM", "amd64"); name {
	case "amd64":
		return abi.AMD64(abi.SysV), nil
	case "goregabi":
		return abi.AMD64(abi.GoRegABI), nil
	case "generic":
		if n := env.Int("LSRA_REGS", 8); n <= 0 {
			return nil, errors.New("invalid register count: %d", n)
		} else {
			return ir.Generic(n, n, n/2), nil
		}
	default:
		return nil, errors.New("unknown platform: %v", name)
	}
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := platform()
	if err != nil {
		return err
	}

	fns := make([]*ir.Func, 0, len(c.Args))
	for _, a := range c.Args {
		fn, err := LoadFile(a, p)
		if err != nil {
			return errors.Wrap(err, "load %v", a)
		}

		fns = append(fns, fn)
	}

	for i, r := range lsra.AllocateAll(ctx, fns, p) {
		if r.Err != nil {
			return errors.Wrap(r.Err, "allocate %v", c.Args[i])
		}

		fmt.Printf("%s", r.Result.Func.Format(p))
		fmt.Printf("; frame=%d spilled=%d moves=%d\n\n", r.Result.Frame, r.Result.Spilled, r.Result.Moves)
	}

	return nil
}

func dotAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) != 1 {
		return errors.New("expected exactly one file")
	}

	p, err := platform()
	if err != nil {
		return err
	}

	fn, err := LoadFile(c.Args[0], p)
	if err != nil {
		return errors.Wrap(err, "load %v", c.Args[0])
	}

	cfg, err := ssa.Compile(ctx, fn)
	if err != nil {
		return errors.Wrap(err, "compile %v", fn.Name)
	}

	o := opts.GetDefaultOptions()
	if _, err = regalloc.Allocate(ctx, fn, p, &o); err != nil {
		return errors.Wrap(err, "allocate %v", fn.Name)
	}

	return ssa.WriteDot(os.Stdout, cfg, p)
}
