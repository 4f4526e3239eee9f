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
    `fmt`
    `html`
    `io`
    `strings`

    `github.com/cloudwego/lsra/ir`
    `github.com/oleiade/lane`
)

type _DotTable struct {
    w    int
    rows [][]string
}

func (self *_DotTable) add(lines ...string) {
    var sec []string
    for _, v := range lines {
        for _, ss := range strings.Split(v, "\n") {
            vv := strings.ReplaceAll(html.EscapeString(ss), " ", "&nbsp;")
            sec = append(sec, fmt.Sprintf("<tr><td align=\"left\">%s</td></tr>\n", vv))
            if len(ss) > self.w {
                self.w = len(ss)
            }
        }
    }
    if len(sec) != 0 {
        self.rows = append(self.rows, sec)
    }
}

func blocknames(bbs []*ir.Block) string {
    buf := make([]string, len(bbs))
    for i, bb := range bbs { buf[i] = bb.String() }
    return strings.Join(buf, ", ")
}

func dumpbb(bb *ir.Block, cfg *CFG, p *ir.Platform) string {
    tab := new(_DotTable)
    idom := "∅"

    /* immediate dominator */
    if d := cfg.DominatedBy[bb.Id]; d != nil && d != bb {
        idom = d.String()
    }

    /* block metadata */
    tab.add(
        fmt.Sprintf("# pred = {%s}", blocknames(bb.Pred)),
        fmt.Sprintf("# idom_by = %s", idom),
        fmt.Sprintf("# idom_of = {%s}", blocknames(cfg.DominatorOf[bb.Id])),
        fmt.Sprintf("# df = {%s}", blocknames(cfg.DominanceFrontier[bb.Id])),
        fmt.Sprintf("# depth = %d, live_in = %s", bb.Depth, bb.LiveIn),
    )

    /* Phi nodes */
    phi := make([]string, len(bb.Phi))
    for i, v := range bb.Phi { phi[i] = v.String() }
    tab.add(phi...)

    /* instructions */
    ins := make([]string, len(bb.Ins))
    for i, v := range bb.Ins { ins[i] = v.Format(p) }
    tab.add(ins...)

    /* build the table */
    buf := []string {
        "<table border=\"1\" cellborder=\"0\" cellspacing=\"0\">\n",
        fmt.Sprintf("<tr><td width=\"%d\">bb_%d</td></tr>\n", tab.w * 10 + 5, bb.Id),
    }

    /* add every section */
    for _, sec := range tab.rows {
        buf = append(buf, "<hr/>\n")
        buf = append(buf, sec...)
    }

    /* end of table */
    buf = append(buf, "</table>")
    return strings.Join(buf, "")
}

// WriteDot renders the CFG in Graphviz format.
func WriteDot(w io.Writer, cfg *CFG, p *ir.Platform) error {
    q := lane.NewQueue()
    n := make(map[int]bool)
    e := make(map[[2]int]bool)
    buf := []string {
        "digraph CFG {",
        `    xdotversion = "15"`,
        `    graph [ fontname = "Fira Code" ]`,
        `    node [ fontname = "Fira Code" fontsize="16" shape = "plaintext" ]`,
        `    edge [ fontname = "Fira Code" ]`,
        `    START [ shape = "circle" ]`,
        fmt.Sprintf(`    START -> bb_%d`, cfg.Entry().Id),
    }

    /* breadth-first over every edge, including exception edges */
    for q.Enqueue(cfg.Entry()); !q.Empty(); {
        bb := q.Dequeue().(*ir.Block)
        if n[bb.Id] {
            continue
        }

        /* dump the block */
        n[bb.Id] = true
        buf = append(buf, fmt.Sprintf(`    bb_%d [ label = < %s > ]`, bb.Id, dumpbb(bb, cfg, p)))

        /* ordinary edges */
        for i, s := range bb.Succ {
            if !n[s.Id] {
                q.Enqueue(s)
            }
            if edge := [2]int { bb.Id, s.Id }; !e[edge] {
                e[edge] = true
                if len(bb.Succ) == 1 {
                    buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "goto" ]`, bb.Id, s.Id))
                } else {
                    buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "%d" ]`, bb.Id, s.Id, i))
                }
            }
        }

        /* exception edges */
        for _, h := range bb.Handlers() {
            if !n[h.Id] {
                q.Enqueue(h)
            }
            if edge := [2]int { bb.Id, h.Id }; !e[edge] {
                e[edge] = true
                buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "throw" style = "dashed" ]`, bb.Id, h.Id))
            }
        }
    }

    /* write the graph */
    buf = append(buf, "}", "")
    _, err := io.WriteString(w, strings.Join(buf, "\n"))
    return err
}
