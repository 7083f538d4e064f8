package sorting

import "math"

func mergeSort(e *Engine) {
	mergeSortRange(e, 0, e.size())
}

func mergeSortRange(e *Engine, lo, hi int) {
	if hi-lo < 2 {
		return
	}
	mid := lo + (hi-lo)/2
	mergeSortRange(e, lo, mid)
	mergeSortRange(e, mid, hi)
	mergeBuffered(e, lo, mid, hi)
}

// mergeBuffered merges the sorted ranges [lo, mid) and [mid, hi) through
// auxiliary buffers: both halves are copied out, merged back by writes and
// the leftovers copied back. Ties take the left element first.
func mergeBuffered(e *Engine, lo, mid, hi int) {
	if lo >= mid || mid >= hi {
		return
	}
	if e.compare(mid-1, mid) <= 0 {
		return
	}

	left := make([]cell, 0, mid-lo)
	for i := lo; i < mid; i++ {
		left = append(left, e.copyOut(i))
	}
	right := make([]cell, 0, hi-mid)
	for i := mid; i < hi; i++ {
		right = append(right, e.copyOut(i))
	}

	i, j, k := 0, 0, lo
	for i < len(left) && j < len(right) {
		if e.compareValues(right[j], left[i], k) < 0 {
			e.set(k, right[j])
			j++
		} else {
			e.set(k, left[i])
			i++
		}
		k++
	}
	for ; i < len(left); i++ {
		e.copyIn(k, left[i])
		k++
	}
	for ; j < len(right); j++ {
		e.copyIn(k, right[j])
		k++
	}
}

func inPlaceMergeSort(e *Engine) {
	inPlaceSortRange(e, 0, e.size())
}

func inPlaceSortRange(e *Engine, lo, hi int) {
	if hi-lo < 2 {
		return
	}
	mid := lo + (hi-lo)/2
	inPlaceSortRange(e, lo, mid)
	inPlaceSortRange(e, mid, hi)
	mergeInPlace(e, lo, mid, hi)
}

// mergeInPlace merges [lo, mid) and [mid, hi) without a buffer. It cuts the
// longer half in the middle, finds the matching cut in the other half by
// binary search, rotates the two inner blocks and recurses on both sides.
func mergeInPlace(e *Engine, lo, mid, hi int) {
	if lo >= mid || mid >= hi {
		return
	}
	if e.compare(mid-1, mid) <= 0 {
		return
	}
	if mid-lo == 1 && hi-mid == 1 {
		e.swap(lo, mid)
		return
	}

	var cut1, cut2 int
	if mid-lo >= hi-mid {
		cut1 = lo + (mid-lo)/2
		cut2 = lowerBound(e, mid, hi, cut1)
	} else {
		cut2 = mid + (hi-mid)/2
		cut1 = upperBound(e, lo, mid, cut2)
	}

	rotate(e, cut1, mid, cut2)
	newMid := cut1 + (cut2 - mid)
	mergeInPlace(e, lo, cut1, newMid)
	mergeInPlace(e, newMid, cut2, hi)
}

// lowerBound returns the first index in [lo, hi) whose value is >= the value at key.
func lowerBound(e *Engine, lo, hi, key int) int {
	for lo < hi {
		m := lo + (hi-lo)/2
		if e.compare(m, key) < 0 {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// upperBound returns the first index in [lo, hi) whose value is > the value at key.
func upperBound(e *Engine, lo, hi, key int) int {
	for lo < hi {
		m := lo + (hi-lo)/2
		if e.compare(m, key) <= 0 {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// rotate moves [mid, hi) in front of [lo, mid) with three reversals.
func rotate(e *Engine, lo, mid, hi int) {
	if lo == mid || mid == hi {
		return
	}
	reverse(e, lo, mid)
	reverse(e, mid, hi)
	reverse(e, lo, hi)
}

func reverse(e *Engine, lo, hi int) {
	for i, j := lo, hi-1; i < j; i, j = i+1, j-1 {
		e.swap(i, j)
	}
}

type run struct {
	start  int
	length int
}

const powerMinRun = 8

func timSort(e *Engine) {
	n := e.size()
	if n < 2 {
		return
	}
	minRun := minRunLength(n)

	var runs []run
	for lo := 0; lo < n; {
		end := extendRun(e, lo, n, minRun)
		runs = append(runs, run{start: lo, length: end - lo})
		runs = collapseRuns(e, runs)
		lo = end
	}
	for len(runs) > 1 {
		i := len(runs) - 2
		if i > 0 && runs[i-1].length < runs[i+1].length {
			i--
		}
		runs = mergeRunsAt(e, runs, i)
	}
}

// minRunLength picks a run length in [16, 32] so n/minRun is close to a power of two.
func minRunLength(n int) int {
	r := 0
	for n >= 32 {
		r |= n & 1
		n >>= 1
	}
	return n + r
}

// collapseRuns merges until the run stack satisfies
// len[i-2] > len[i-1] + len[i] and len[i-1] > len[i].
func collapseRuns(e *Engine, runs []run) []run {
	for len(runs) > 1 {
		i := len(runs) - 2
		if (i > 0 && runs[i-1].length <= runs[i].length+runs[i+1].length) ||
			(i > 1 && runs[i-2].length <= runs[i-1].length+runs[i].length) {
			if runs[i-1].length < runs[i+1].length {
				i--
			}
		} else if runs[i].length > runs[i+1].length {
			break
		}
		runs = mergeRunsAt(e, runs, i)
	}
	return runs
}

func mergeRunsAt(e *Engine, runs []run, i int) []run {
	a, b := runs[i], runs[i+1]
	mergeBuffered(e, a.start, b.start, b.start+b.length)
	runs[i].length += b.length
	return append(runs[:i+1], runs[i+2:]...)
}

// extendRun finds the natural run starting at lo, reversing it when strictly
// descending, and pads it to minRun elements with insertion sort.
func extendRun(e *Engine, lo, n, minRun int) int {
	hi := lo + 1
	if hi < n {
		if e.compare(hi, lo) < 0 {
			hi++
			for hi < n && e.compare(hi, hi-1) < 0 {
				hi++
			}
			reverse(e, lo, hi)
		} else {
			hi++
			for hi < n && e.compare(hi, hi-1) >= 0 {
				hi++
			}
		}
	}
	if hi-lo < minRun {
		force := min(lo+minRun, n)
		insertionFrom(e, lo, hi, force)
		hi = force
	}
	return hi
}

// insertionFrom inserts [start, hi) into the already sorted prefix [lo, start).
func insertionFrom(e *Engine, lo, start, hi int) {
	for i := start; i < hi; i++ {
		for j := i; j > lo && e.compare(j-1, j) > 0; j-- {
			e.swap(j-1, j)
		}
	}
}

func powerSort(e *Engine) {
	n := e.size()
	if n < 2 {
		return
	}

	type pending struct {
		start int
		power int
	}
	var stack []pending

	s1 := 0
	e1 := extendRun(e, s1, n, powerMinRun)
	for e1 < n {
		s2 := e1
		e2 := extendRun(e, s2, n, powerMinRun)
		p := nodePower(n, s1, s2, e2)
		for len(stack) > 0 && stack[len(stack)-1].power > p {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			mergeBuffered(e, top.start, s1, e1)
			s1 = top.start
		}
		stack = append(stack, pending{start: s1, power: p})
		s1, e1 = s2, e2
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		mergeBuffered(e, top.start, s1, n)
		s1 = top.start
	}
}

// nodePower is the depth of the first power-of-two boundary that separates
// the midpoints of runs [s1, s2) and [s2, e2) on the normalized interval.
func nodePower(n, s1, s2, e2 int) int {
	a := float64(s1+s2) / float64(2*n)
	b := float64(s2+e2) / float64(2*n)
	p := 0
	for p < 64 {
		p++
		a *= 2
		b *= 2
		ia, ib := math.Floor(a), math.Floor(b)
		if ia != ib {
			break
		}
		a -= ia
		b -= ib
	}
	return p
}
