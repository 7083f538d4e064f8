package sorting

func bubbleSort(e *Engine) {
	n := e.size()
	for end := n - 1; end > 0; end-- {
		swapped := false
		for i := 0; i < end; i++ {
			if e.compare(i, i+1) > 0 {
				e.swap(i, i+1)
				swapped = true
			}
		}
		if !swapped {
			return
		}
	}
}

func insertionSort(e *Engine) {
	insertionFrom(e, 0, 1, e.size())
}

func selectionSort(e *Engine) {
	n := e.size()
	for i := 0; i < n-1; i++ {
		least := i
		for j := i + 1; j < n; j++ {
			if e.compare(j, least) < 0 {
				least = j
			}
		}
		if least != i {
			e.swap(i, least)
		}
	}
}

func heapSort(e *Engine) {
	n := e.size()
	for i := n/2 - 1; i >= 0; i-- {
		siftDown(e, i, n)
	}
	for end := n - 1; end > 0; end-- {
		e.swap(0, end)
		siftDown(e, 0, end)
	}
}

func siftDown(e *Engine, root, n int) {
	for {
		child := 2*root + 1
		if child >= n {
			return
		}
		if child+1 < n && e.compare(child, child+1) < 0 {
			child++
		}
		if e.compare(root, child) >= 0 {
			return
		}
		e.swap(root, child)
		root = child
	}
}

func quickSort(e *Engine) {
	quickRange(e, 0, e.size()-1)
}

func quickRange(e *Engine, lo, hi int) {
	for lo < hi {
		p := lomuto(e, lo, hi)
		// recurse into the smaller side to bound stack depth
		if p-lo < hi-p {
			quickRange(e, lo, p-1)
			lo = p + 1
		} else {
			quickRange(e, p+1, hi)
			hi = p - 1
		}
	}
}

// lomuto partitions [lo, hi] around the value at hi and returns its final index.
func lomuto(e *Engine, lo, hi int) int {
	i := lo
	for j := lo; j < hi; j++ {
		if e.compare(j, hi) <= 0 {
			if i != j {
				e.swap(i, j)
			}
			i++
		}
	}
	if i != hi {
		e.swap(i, hi)
	}
	return i
}
