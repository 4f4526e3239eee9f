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
    `tlog.app/go/errors`
    `tlog.app/go/tlog`
)

type Pass interface {
    Apply(context.Context, *CFG) error
}

type PassDescriptor struct {
    Pass Pass
    Name string
}

var Passes = [...]PassDescriptor {
    { Name: "Unreachable Block Removal" , Pass: new(Unreachable) },
    { Name: "SSA Construction"          , Pass: new(BuildSSA) },
    { Name: "Critical Edge Splitting"   , Pass: new(SplitCritical) },
    { Name: "Block Layout"              , Pass: new(Layout) },
    { Name: "Phi Lowering"              , Pass: new(PhiLower) },      // The CFG is no longer in SSA form after this pass.
}

// BuildSSA places Phi nodes and renames every variable into a virtual register.
type BuildSSA struct{}

func (BuildSSA) Apply(ctx context.Context, cfg *CFG) error {
    if err := insertPhiNodes(cfg); err != nil {
        return err
    }

    /* rename the variables */
    lazy, err := renameVariables(cfg)
    if err != nil {
        return err
    }

    /* remove the dead Phi nodes */
    if err = prunePhis(cfg); err != nil {
        return err
    }

    /* zero-initialize the locals that are actually read */
    zeroLocals(cfg, lazy)
    tlog.SpanFromContext(ctx).Printw("ssa form", "func", cfg.Name, "vregs", cfg.NumVirtual)
    return nil
}

func executeSSAPasses(ctx context.Context, cfg *CFG) error {
    tr := tlog.SpanFromContext(ctx)

    /* run every pass in order */
    for _, p := range Passes {
        if err := p.Pass.Apply(ctx, cfg); err != nil {
            return errors.Wrap(err, "%s", p.Name)
        }

        /* dump the CFG if requested */
        if tr.If("lsra_passes") {
            tr.Printw("after pass", "pass", p.Name, "code", cfg.Format(nil))
        }
    }
    return nil
}

// Compile validates fn and brings it into the linear, Phi-free form the
// register allocator works on.
func Compile(ctx context.Context, fn *ir.Func) (cfg *CFG, err error) {
    if err = fn.Validate(); err != nil {
        return nil, err
    }

    /* build the CFG and run all the passes */
    cfg = NewCFG(fn)
    err = executeSSAPasses(ctx, cfg)
    return
}
