package sorting

import "cmp"

// Every primitive below is one atomic operation: it checks the stop flag,
// mutates state and counters under the lock, then waits for the pacer.

func (e *Engine) apply(kind OpKind, fn func(), idx ...int) {
	if e.stop.Load() {
		panic(halt{ErrStopped})
	}

	func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		fn()
		e.counters.add(kind)
		e.lastOp = &Operation{Kind: kind, Indices: idx}
	}()

	if err := e.pacer.Wait(e.ctx, e.Delay()); err != nil {
		panic(halt{err})
	}
}

func (e *Engine) size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cells)
}

// compare returns the ordering of the values at i and j.
func (e *Engine) compare(i, j int) int {
	var c int
	e.apply(OpCompare, func() {
		c = cmp.Compare(e.cells[i].value, e.cells[j].value)
	}, i, j)
	return c
}

// compareValues compares two held elements; idx only annotates the operation.
func (e *Engine) compareValues(a, b cell, idx ...int) int {
	var c int
	e.apply(OpCompare, func() {
		c = cmp.Compare(a.value, b.value)
	}, idx...)
	return c
}

func (e *Engine) swap(i, j int) {
	e.apply(OpSwap, func() {
		e.cells[i], e.cells[j] = e.cells[j], e.cells[i]
	}, i, j)
}

func (e *Engine) get(i int) cell {
	var c cell
	e.apply(OpAccess, func() {
		c = e.cells[i]
	}, i)
	return c
}

func (e *Engine) set(i int, c cell) {
	e.apply(OpWrite, func() {
		e.cells[i] = c
	}, i)
}

// copyOut reads position i into an auxiliary buffer.
func (e *Engine) copyOut(i int) cell {
	var c cell
	e.apply(OpCopy, func() {
		c = e.cells[i]
	}, i)
	return c
}

// copyIn writes a buffered element back to position i.
func (e *Engine) copyIn(i int, c cell) {
	e.apply(OpCopy, func() {
		e.cells[i] = c
	}, i)
}

// shuffle performs a full Fisher-Yates reshuffle as a single operation.
func (e *Engine) shuffle() {
	e.apply(OpShuffle, func() {
		for i := len(e.cells) - 1; i > 0; i-- {
			j := e.rng.IntN(i + 1)
			e.cells[i], e.cells[j] = e.cells[j], e.cells[i]
		}
	})
}

func (e *Engine) removeAt(i int) {
	e.apply(OpRemove, func() {
		e.cells = append(e.cells[:i], e.cells[i+1:]...)
	}, i)
}
