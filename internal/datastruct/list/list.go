// Package list implements the doubly-linked list backing the List
// data type (spec.md §3/§4.C). Values are binary-safe byte slices,
// not Go strings, since list elements can hold arbitrary bytes.
package list

import "math"

// Node is one element of a List.
type Node struct {
	pre, next *Node
	value     []byte
}

// List is a plain doubly-linked list; no skip pointers, matching
// spec.md §4.C's description of the list engine as a simple
// linked-list with O(1) push/pop at either end and O(n) indexed access.
type List struct {
	head, tail *Node
	len        int
}

func NewNode(value []byte) *Node {
	return &Node{value: value}
}

func New() *List {
	return &List{}
}

func (n *Node) Value() []byte {
	if n == nil {
		return nil
	}
	return n.value
}

func (l *List) Len() int {
	return l.len
}

func (l *List) RPush(value []byte) {
	node := NewNode(value)
	if l.len == 0 {
		l.head = node
		l.tail = node
	} else {
		l.tail.next = node
		node.pre = l.tail
		l.tail = node
	}
	l.len++
}

func (l *List) LPush(value []byte) {
	node := NewNode(value)
	if l.len == 0 {
		l.head = node
		l.tail = node
	} else {
		l.head.pre = node
		node.next = l.head
		l.head = node
	}
	l.len++
}

// LPop removes and returns the head node, or nil if the list is empty.
func (l *List) LPop() *Node {
	if l.len == 0 {
		return nil
	}
	node := l.head
	if node.next == nil {
		l.head = nil
		l.tail = nil
	} else {
		l.head = node.next
		l.head.pre = nil
	}
	l.len--
	return node
}

// RPop removes and returns the tail node, or nil if the list is empty.
func (l *List) RPop() *Node {
	if l.len == 0 {
		return nil
	}
	node := l.tail
	if node.pre == nil {
		l.head = nil
		l.tail = nil
	} else {
		l.tail = node.pre
		l.tail.next = nil
	}
	l.len--
	return node
}

// GetByIndex returns the node at index, where a negative index counts
// from the tail (-1 is the last element).
func (l *List) GetByIndex(index int) *Node {
	var node *Node
	if index >= 0 {
		node = l.head
		for i := 0; i < index && node != nil; i++ {
			node = node.next
		}
	} else {
		node = l.tail
		rightIndex := int(math.Abs(float64(index))) - 1
		for i := 0; i < rightIndex && node != nil; i++ {
			node = node.pre
		}
	}
	return node
}

// Set replaces the value at index in place, used by LSET. Returns
// false if index is out of range.
func (l *List) Set(index int, value []byte) bool {
	node := l.GetByIndex(index)
	if node == nil {
		return false
	}
	node.value = value
	return true
}

// Range returns the node values in [start, stop], both inclusive and
// already clamped by the caller (spec.md §4.C's LRANGE semantics).
func (l *List) Range(start, stop int) [][]byte {
	values := make([][]byte, 0, stop-start+1)
	node := l.head
	for i := 0; i < l.len; i++ {
		if i >= start && i <= stop {
			values = append(values, node.value)
		}
		node = node.next
	}
	return values
}

// ForEach visits every element head-to-tail, stopping early if fn
// returns false. Used by AOF rewrite to emit a chained RPUSH.
func (l *List) ForEach(fn func(value []byte) bool) {
	node := l.head
	for node != nil {
		if !fn(node.value) {
			return
		}
		node = node.next
	}
}

// RemoveByValue removes up to count occurrences of value, scanning
// head-to-tail when count >= 0 and tail-to-head when count < 0
// (LREM's direction rule). count == 0 removes every occurrence.
func (l *List) RemoveByValue(value []byte, count int) int {
	removed := 0
	if count >= 0 {
		node := l.head
		limit := count
		for node != nil {
			next := node.next
			if bytesEqual(node.value, value) && (limit == 0 || removed < limit) {
				l.removeNode(node)
				removed++
			}
			node = next
		}
		return removed
	}
	node := l.tail
	limit := -count
	for node != nil {
		pre := node.pre
		if bytesEqual(node.value, value) && removed < limit {
			l.removeNode(node)
			removed++
		}
		node = pre
	}
	return removed
}

func (l *List) removeNode(node *Node) {
	if node.pre != nil {
		node.pre.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.pre = node.pre
	} else {
		l.tail = node.pre
	}
	l.len--
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
