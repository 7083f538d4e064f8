package sorting

// radixSort is an LSD radix sort in base 10. Values are shifted by the
// minimum so negative inputs work. Each pass counts digits with accesses,
// distributes into a bucket buffer with copies and copies the buffer back.
func radixSort(e *Engine) {
	n := e.size()
	if n < 2 {
		return
	}

	lowest := e.get(0).value
	highest := lowest
	for i := 1; i < n; i++ {
		v := e.get(i).value
		lowest = min(lowest, v)
		highest = max(highest, v)
	}
	span := highest - lowest
	if span == 0 {
		return
	}

	buf := make([]cell, n)
	digits := make([]int, n)
	for place := 1; ; place *= 10 {
		var count [10]int
		for i := 0; i < n; i++ {
			d := ((e.get(i).value - lowest) / place) % 10
			digits[i] = d
			count[d]++
		}
		for d := 1; d < 10; d++ {
			count[d] += count[d-1]
		}
		for i := n - 1; i >= 0; i-- {
			d := digits[i]
			count[d]--
			buf[count[d]] = e.copyOut(i)
		}
		for i := 0; i < n; i++ {
			e.copyIn(i, buf[i])
		}
		if span/place < 10 {
			return
		}
	}
}

// bogoSort reshuffles the whole array until a sortedness scan passes.
// Each reshuffle is one counted operation. It terminates with probability 1
// but carries no bound; races stop it through early termination.
func bogoSort(e *Engine) {
	for !isSorted(e) {
		e.shuffle()
	}
}

func isSorted(e *Engine) bool {
	n := e.size()
	for i := 0; i+1 < n; i++ {
		if e.compare(i, i+1) > 0 {
			return false
		}
	}
	return true
}

// stalinSort walks the array once and removes every element smaller than
// the last kept one. The result is a non-decreasing subsequence of the
// input, not a permutation of it.
func stalinSort(e *Engine) {
	kept := 0
	for i := 1; i < e.size(); {
		if e.compare(i, kept) < 0 {
			e.removeAt(i)
			continue
		}
		kept = i
		i++
	}
}
