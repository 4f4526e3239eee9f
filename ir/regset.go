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

package ir

import (
    `fmt`
    `math/bits`
    `strings`
)

// RegSet is a set of virtual register numbers.
type RegSet []uint64

func NewRegSet(n int) RegSet {
    return make(RegSet, (n + 63) / 64)
}

func (self *RegSet) grow(i int) {
    if n := i / 64 + 1; n > len(*self) {
        *self = append(*self, make(RegSet, n - len(*self))...)
    }
}

func (self *RegSet) Add(i int) {
    self.grow(i)
    (*self)[i / 64] |= 1 << (i % 64)
}

func (self RegSet) Remove(i int) {
    if i / 64 < len(self) {
        self[i / 64] &^= 1 << (i % 64)
    }
}

func (self RegSet) Has(i int) bool {
    return i / 64 < len(self) && self[i / 64] & (1 << (i % 64)) != 0
}

func (self RegSet) Empty() bool {
    for _, w := range self {
        if w != 0 {
            return false
        }
    }
    return true
}

func (self RegSet) Count() (n int) {
    for _, w := range self {
        n += bits.OnesCount64(w)
    }
    return
}

func (self RegSet) Clone() RegSet {
    return append(RegSet(nil), self...)
}

// Union adds every element of other, and reports whether the set changed.
func (self *RegSet) Union(other RegSet) (changed bool) {
    if len(other) > len(*self) {
        self.grow(len(other) * 64 - 1)
    }

    /* merge word by word */
    for i, w := range other {
        if v := (*self)[i] | w; v != (*self)[i] {
            changed = true
            (*self)[i] = v
        }
    }
    return
}

// Subtract removes every element of other.
func (self RegSet) Subtract(other RegSet) {
    for i := 0; i < len(self) && i < len(other); i++ {
        self[i] &^= other[i]
    }
}

func (self RegSet) Equal(other RegSet) bool {
    for i := 0; i < len(self) || i < len(other); i++ {
        var a, b uint64
        if i < len(self)  { a = self[i] }
        if i < len(other) { b = other[i] }
        if a != b         { return false }
    }
    return true
}

// ForEach calls fn for every element in ascending order.
func (self RegSet) ForEach(fn func(i int)) {
    for i, w := range self {
        for w != 0 {
            n := bits.TrailingZeros64(w)
            w &^= 1 << n
            fn(i * 64 + n)
        }
    }
}

// Slice returns the elements in ascending order.
func (self RegSet) Slice() (ret []int) {
    self.ForEach(func(i int) { ret = append(ret, i) })
    return
}

func (self RegSet) String() string {
    nb := self.Count()
    buf := make([]string, 0, nb)

    /* dump the registers */
    self.ForEach(func(i int) {
        buf = append(buf, fmt.Sprintf("v%d", i))
    })

    /* join them together */
    return fmt.Sprintf(
        "{%s}",
        strings.Join(buf, ", "),
    )
}
