package sorting

import (
	"errors"
	"fmt"
)

// Algorithm identifies one instrumented sorting variant.
type Algorithm string

const (
	AlgorithmBubble       Algorithm = "bubble"
	AlgorithmInsertion    Algorithm = "insertion"
	AlgorithmSelection    Algorithm = "selection"
	AlgorithmHeap         Algorithm = "heap"
	AlgorithmQuick        Algorithm = "quick"
	AlgorithmMerge        Algorithm = "merge"
	AlgorithmInPlaceMerge Algorithm = "inplace_merge"
	AlgorithmTim          Algorithm = "tim"
	AlgorithmPower        Algorithm = "power"
	AlgorithmRadix        Algorithm = "radix"
	AlgorithmBogo         Algorithm = "bogo"
	AlgorithmStalin       Algorithm = "stalin"
)

var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Info describes an algorithm for catalogs and clients.
type Info struct {
	ID          Algorithm `json:"id"`
	Name        string    `json:"name"`
	Stable      bool      `json:"stable"`
	Complexity  string    `json:"complexity"`
	Description string    `json:"description"`
}

type sortFunc func(e *Engine)

type definition struct {
	info Info
	sort sortFunc
}

var catalog = []definition{
	{Info{AlgorithmBubble, "Bubble Sort", true, "O(n²)", "Adjacent compare-and-swap passes, stops after a pass without swaps."}, bubbleSort},
	{Info{AlgorithmInsertion, "Insertion Sort", true, "O(n²)", "Sinks each element left by adjacent swaps."}, insertionSort},
	{Info{AlgorithmSelection, "Selection Sort", false, "O(n²)", "Selects the minimum of the unsorted suffix and swaps it into place."}, selectionSort},
	{Info{AlgorithmHeap, "Heap Sort", false, "O(n log n)", "Builds a max-heap then repeatedly moves the root behind the heap. Still swaps on input that is already sorted, since heap order is the reverse of sorted order."}, heapSort},
	{Info{AlgorithmQuick, "Quick Sort", false, "O(n log n) avg", "Recursive Lomuto partition around the last element."}, quickSort},
	{Info{AlgorithmMerge, "Merge Sort", true, "O(n log n)", "Top-down merge through an auxiliary buffer (copy out, merge, copy back)."}, mergeSort},
	{Info{AlgorithmInPlaceMerge, "In-Place Merge Sort", true, "O(n log² n)", "Merges without a buffer using binary-search cuts and block rotation."}, inPlaceMergeSort},
	{Info{AlgorithmTim, "Tim Sort", true, "O(n log n)", "Detects natural runs, pads them with insertion sort and merges under stack invariants."}, timSort},
	{Info{AlgorithmPower, "Power Sort", true, "O(n log n)", "Natural runs merged along a balanced tree chosen by power-of-two node powers."}, powerSort},
	{Info{AlgorithmRadix, "Radix Sort (LSD)", true, "O(d·n)", "Per-digit counting sort from the least significant decimal digit."}, radixSort},
	{Info{AlgorithmBogo, "Bogo Sort", false, "O(n·n!)", "Reshuffles the whole array until it happens to be sorted."}, bogoSort},
	{Info{AlgorithmStalin, "Stalin Sort", true, "O(n)", "One pass that removes every element smaller than the running maximum."}, stalinSort},
}

var registry = func() map[Algorithm]definition {
	m := make(map[Algorithm]definition, len(catalog))
	for _, d := range catalog {
		m[d.info.ID] = d
	}
	return m
}()

// Algorithms returns the catalog in display order.
func Algorithms() []Info {
	out := make([]Info, len(catalog))
	for i, d := range catalog {
		out[i] = d.info
	}
	return out
}

// Lookup returns the catalog entry for id.
func Lookup(id Algorithm) (Info, error) {
	d, ok := registry[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id)
	}
	return d.info, nil
}

// Valid reports whether id names a known algorithm.
func (a Algorithm) Valid() bool {
	_, ok := registry[a]
	return ok
}

// Destructive reports whether the algorithm may drop elements instead of permuting them.
func (a Algorithm) Destructive() bool {
	return a == AlgorithmStalin
}
