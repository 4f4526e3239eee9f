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
    `github.com/cloudwego/lsra/ir`
    `github.com/oleiade/lane`
)

type _TreeFrame struct {
    bb   *ir.Block
    next int
}

// PostOrder lists the blocks of the dominator tree, every block after all
// the blocks it dominates. Unreachable blocks are not part of the tree.
func (self *CFG) PostOrder() []*ir.Block {
    st := lane.NewStack()
    ret := make([]*ir.Block, 0, len(self.Blocks))
    st.Push(&_TreeFrame { bb: self.Entry() })

    /* depth-first over the tree children */
    for !st.Empty() {
        fr := st.Head().(*_TreeFrame)
        ch := self.DominatorOf[fr.bb.Id]

        /* descend into the next child, or emit the block once they are done */
        if fr.next < len(ch) {
            fr.next++
            st.Push(&_TreeFrame { bb: ch[fr.next - 1] })
        } else {
            ret = append(ret, fr.bb)
            st.Pop()
        }
    }
    return ret
}
