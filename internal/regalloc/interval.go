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

package regalloc

import (
    `fmt`
    `math`
    `strings`

    `github.com/cloudwego/lsra/ir`
)

const (
    _MaxPos = math.MaxInt32
    _NoReg  = -1
)

// UseKind is the strictness of a use position.
type UseKind uint8

const (
    U_none UseKind = iota
    U_loopEnd
    U_should
    U_must
)

func (self UseKind) String() string {
    switch self {
        case U_none    : return "none"
        case U_loopEnd : return "loop-end"
        case U_should  : return "should"
        case U_must    : return "must"
        default        : return "???"
    }
}

// SpillState drives the spill-move elimination. It is only meaningful on
// split parents.
type SpillState uint8

const (
    S_noDefinitionFound SpillState = iota
    S_oneDefinitionFound
    S_oneMoveInserted
    S_storeAtDefinition
    S_startInMemory
    S_noOptimization
)

func (self SpillState) String() string {
    switch self {
        case S_noDefinitionFound  : return "no-definition-found"
        case S_oneDefinitionFound : return "one-definition-found"
        case S_oneMoveInserted    : return "one-move-inserted"
        case S_storeAtDefinition  : return "store-at-definition"
        case S_startInMemory      : return "start-in-memory"
        case S_noOptimization     : return "no-optimization"
        default                   : return "???"
    }
}

// State is the walker state of an interval. Transitions are monotonic:
// unhandled, then active and inactive, then handled.
type State uint8

const (
    I_unhandled State = iota
    I_active
    I_inactive
    I_handled
)

func (self State) String() string {
    switch self {
        case I_unhandled : return "unhandled"
        case I_active    : return "active"
        case I_inactive  : return "inactive"
        case I_handled   : return "handled"
        default          : return "???"
    }
}

// Range is the half-open position interval [From, To).
type Range struct {
    From int
    To   int
}

func (self Range) String() string {
    return fmt.Sprintf("[%d, %d)", self.From, self.To)
}

// intersectsAt returns the first position covered by both range lists, or -1.
func intersectsAt(a []Range, b []Range) int {
    i, j := 0, 0
    for i < len(a) && j < len(b) {
        r1, r2 := a[i], b[j]
        switch {
            case r1.From < r2.From: {
                if r1.To <= r2.From {
                    i++
                } else {
                    return r2.From
                }
            }
            case r2.From < r1.From: {
                if r2.To <= r1.From {
                    j++
                } else {
                    return r1.From
                }
            }
            case r1.From == r1.To : i++
            case r2.From == r2.To : j++
            default               : return r1.From
        }
    }
    return -1
}

// Use is a use position of an interval.
type Use struct {
    Pos  int
    Kind UseKind
}

// Interval is the lifetime of one virtual register, one of its split
// children, or one physical register. Intervals live in an arena owned by
// the allocator, and refer to each other by index.
//
// Ranges are in ascending order, Uses in descending order of position.
type Interval struct {
    Id       int
    Class    ir.Class
    Wide     bool
    Fixed    bool
    Ranges   []Range
    Uses     []Use
    Reg      int
    Hi       int
    Slot     int
    Parent   int
    Children []int
    Hint     int
    State    State

    /* the value this interval holds, a virtual register number */
    value int

    /* split parent metadata */
    canonical  int
    spillState SpillState
    spillDef   int
    original   []Range
    lastChild  int

    /* walker state */
    current    int
    moveOnLoad bool
    temp       bool
}

func newInterval(id int, c ir.Class, wide bool) *Interval {
    return &Interval {
        Id        : id,
        Class     : c,
        Wide      : wide,
        Reg       : _NoReg,
        Hi        : _NoReg,
        Slot      : -1,
        Parent    : id,
        Hint      : -1,
        canonical : -1,
        lastChild : -1,
    }
}

func (self *Interval) From() int {
    return self.Ranges[0].From
}

func (self *Interval) To() int {
    return self.Ranges[len(self.Ranges) - 1].To
}

func (self *Interval) IsSplitParent() bool {
    return self.Parent == self.Id
}

// IsSpillTemp reports whether this is a cycle-breaking interval of the move resolver.
func (self *Interval) IsSpillTemp() bool {
    return self.temp
}

func (self *Interval) HasRegister() bool {
    return self.Reg >= 0
}

func (self *Interval) OnStack() bool {
    return self.Slot >= 0
}

func (self *Interval) assigned() bool {
    return self.Reg >= 0 || self.Slot >= 0
}

func (self *Interval) assignReg(reg int, hi int) {
    self.Reg = reg
    self.Hi = hi
    self.Slot = -1
}

func (self *Interval) assignSlot(slot int) {
    self.Reg = _NoReg
    self.Hi = _NoReg
    self.Slot = slot
}

// sameLocation reports whether both intervals were assigned the same storage.
func (self *Interval) sameLocation(other *Interval) bool {
    return self.Reg == other.Reg && self.Hi == other.Hi && self.Slot == other.Slot
}

/** Construction, ranges are kept in descending order until finish() **/

func (self *Interval) addRange(from int, to int) {
    n := len(self.Ranges)
    if n != 0 && self.Ranges[n - 1].From <= to {
        self.Ranges[n - 1].From = minInt(from, self.Ranges[n - 1].From)
        self.Ranges[n - 1].To = maxInt(to, self.Ranges[n - 1].To)
    } else {
        self.Ranges = append(self.Ranges, Range { from, to })
    }
}

func (self *Interval) addUsePos(pos int, kind UseKind) {
    n := len(self.Uses)

    /* fixed intervals never record uses */
    if kind == U_none || self.Fixed {
        return
    }

    /* uses are added in descending order, raise the kind on duplicates */
    if n == 0 || self.Uses[n - 1].Pos > pos {
        self.Uses = append(self.Uses, Use { pos, kind })
    } else if self.Uses[n - 1].Kind < kind {
        self.Uses[n - 1].Kind = kind
    }
}

func (self *Interval) finish() {
    for i, j := 0, len(self.Ranges) - 1; i < j; i, j = i + 1, j - 1 {
        self.Ranges[i], self.Ranges[j] = self.Ranges[j], self.Ranges[i]
    }
    self.original = append([]Range(nil), self.Ranges...)
}

/** Range Queries **/

// Covers reports whether the position is inside the interval. Input
// operands also cover the end of a range, since uses sit at the range end.
func (self *Interval) Covers(pos int, mode ir.Mode) bool {
    for _, r := range self.Ranges {
        if r.To < pos {
            continue
        } else if mode == ir.M_input {
            return r.From <= pos && pos <= r.To
        } else {
            return r.From <= pos && pos < r.To
        }
    }
    return false
}

// coversStrictly reports whether some range contains pos, ends excluded.
func (self *Interval) coversStrictly(pos int) bool {
    return self.Covers(pos, ir.M_output)
}

func (self *Interval) hasHoleBetween(from int, to int) bool {
    for _, r := range self.Ranges {
        if from < r.From {
            return true
        } else if to <= r.To {
            return false
        } else if from <= r.To {
            return true
        }
    }
    return false
}

func (self *Interval) intersects(other *Interval) bool {
    return intersectsAt(self.Ranges, other.Ranges) >= 0
}

/** Walker cursor **/

func (self *Interval) rewind() {
    self.current = 0
}

func (self *Interval) atEnd() bool {
    return self.current >= len(self.Ranges)
}

func (self *Interval) currentFrom() int {
    if self.atEnd() {
        return _MaxPos
    } else {
        return self.Ranges[self.current].From
    }
}

func (self *Interval) currentTo() int {
    if self.atEnd() {
        return _MaxPos
    } else {
        return self.Ranges[self.current].To
    }
}

func (self *Interval) currentIntersects(other *Interval) bool {
    return self.currentIntersectsAt(other) >= 0
}

func (self *Interval) currentIntersectsAt(other *Interval) int {
    if self.atEnd() || other.atEnd() {
        return -1
    } else {
        return intersectsAt(self.Ranges[self.current:], other.Ranges[other.current:])
    }
}

/** Use Positions **/

func (self *Interval) firstUsage(kind UseKind) int {
    for i := len(self.Uses) - 1; i >= 0; i-- {
        if self.Uses[i].Kind >= kind {
            return self.Uses[i].Pos
        }
    }
    return _MaxPos
}

func (self *Interval) nextUsage(kind UseKind, from int) int {
    for i := len(self.Uses) - 1; i >= 0; i-- {
        if u := self.Uses[i]; u.Pos >= from && u.Kind >= kind {
            return u.Pos
        }
    }
    return _MaxPos
}

func (self *Interval) nextUsageExact(kind UseKind, from int) int {
    for i := len(self.Uses) - 1; i >= 0; i-- {
        if u := self.Uses[i]; u.Pos >= from && u.Kind == kind {
            return u.Pos
        }
    }
    return _MaxPos
}

func (self *Interval) previousUsage(kind UseKind, from int) int {
    prev := 0
    for i := len(self.Uses) - 1; i >= 0; i-- {
        if u := self.Uses[i]; u.Pos > from {
            return prev
        } else if u.Kind >= kind {
            prev = u.Pos
        }
    }
    return prev
}

/** Splitting **/

// splitAt moves everything at or after pos into child. The child must be
// freshly created, with no ranges and no uses.
func (self *Interval) splitAt(pos int, child *Interval) {
    i := 0
    n := len(self.Ranges)

    /* find the first range that ends after the split position */
    for i < n && self.Ranges[i].To <= pos {
        i++
    }

    /* split the ranges, the child takes the tail */
    if r := self.Ranges[i]; r.From < pos {
        child.Ranges = append([]Range { { pos, r.To } }, self.Ranges[i + 1:]...)
        self.Ranges = append(self.Ranges[:i:i], Range { r.From, pos })
    } else {
        child.Ranges = append([]Range(nil), self.Ranges[i:]...)
        self.Ranges = self.Ranges[:i:i]
    }

    /* split the use positions, the child takes everything at or after pos */
    k := len(self.Uses)
    for k > 0 && self.Uses[k - 1].Pos < pos {
        k--
    }

    /* update the use positions */
    child.Uses = append([]Use(nil), self.Uses[:k]...)
    self.Uses = append([]Use(nil), self.Uses[k:]...)

    /* the walker cursor can not point past the end */
    if self.current > len(self.Ranges) {
        self.current = len(self.Ranges)
    }
}

func (self *Interval) String() string {
    var loc string
    var rr []string
    var uu []string

    /* assigned location */
    switch {
        case self.Slot >= 0      : loc = fmt.Sprintf("[sp+%d]", self.Slot)
        case self.Hi != _NoReg   : loc = fmt.Sprintf("r%d:r%d", self.Reg, self.Hi)
        case self.Reg != _NoReg  : loc = fmt.Sprintf("r%d", self.Reg)
        default                  : loc = "-"
    }

    /* ranges and uses */
    for _, r := range self.Ranges { rr = append(rr, r.String()) }
    for _, u := range self.Uses   { uu = append(uu, fmt.Sprintf("%d:%s", u.Pos, u.Kind)) }

    /* build the result */
    return fmt.Sprintf(
        "i%d(v%d, p=i%d) %s {%s} uses {%s}",
        self.Id,
        self.value,
        self.Parent,
        loc,
        strings.Join(rr, ", "),
        strings.Join(uu, ", "),
    )
}

func minInt(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}

func maxInt(a int, b int) int {
    if a > b {
        return a
    } else {
        return b
    }
}
