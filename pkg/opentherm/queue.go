// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import "sync"

// queueKey identifies a pending request. Parity and spare bits are ignored.
type queueKey struct {
	kind MessageType
	id   MessageID
}

// Queue is a FIFO of pending requests in which each (type, id) pair appears
// at most once. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	order   []queueKey
	members map[queueKey]struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{members: make(map[queueKey]struct{})}
}

// Enqueue appends a request for (t, id) unless an equal one is already
// pending. It reports whether the request was added.
func (q *Queue) Enqueue(t MessageType, id MessageID) bool {
	key := queueKey{kind: t.Masked(), id: id}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[key]; ok {
		return false
	}
	q.members[key] = struct{}{}
	q.order = append(q.order, key)
	return true
}

// PopFront removes the oldest request and returns it as a frame with zero
// data and no parity. It returns false if the queue is empty.
func (q *Queue) PopFront() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return Frame{}, false
	}
	key := q.order[0]
	q.order[0] = queueKey{}
	q.order = q.order[1:]
	delete(q.members, key)

	return NewFrame(key.kind, key.id), true
}

// Size returns the number of pending requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Empty reports whether no request is pending.
func (q *Queue) Empty() bool {
	return q.Size() == 0
}

// Contains reports whether a request for (t, id) is pending.
func (q *Queue) Contains(t MessageType, id MessageID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[queueKey{kind: t.Masked(), id: id}]
	return ok
}

// Clear drops every pending request.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = nil
	q.members = make(map[queueKey]struct{})
}
