package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"slices"
)

const (
	MIN_DATASET_SIZE = 2
	MAX_DATASET_SIZE = 500
	MAX_STEP_DELAY   = 2000
	MIN_VALUE        = -1_000_000_000
	MAX_VALUE        = 1_000_000_000
)

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSettings checks that a dataset can be generated from s.
func ValidateSettings(s Settings, maxSize int) error {
	if maxSize <= 0 {
		maxSize = MAX_DATASET_SIZE
	}
	switch {
	case s.DatasetSize < MIN_DATASET_SIZE || s.DatasetSize > maxSize:
		return ErrInvalidSettings.with(fmt.Errorf("dataset size must be between %d and %d", MIN_DATASET_SIZE, maxSize))
	case s.MinValue < MIN_VALUE || s.MaxValue > MAX_VALUE:
		return ErrInvalidSettings.with(fmt.Errorf("values must lie between %d and %d", MIN_VALUE, MAX_VALUE))
	case s.MinValue >= s.MaxValue:
		return ErrInvalidSettings.with(fmt.Errorf("min value %d must be below max value %d", s.MinValue, s.MaxValue))
	case !s.AllowDuplicates && s.MaxValue-s.MinValue+1 < s.DatasetSize:
		return ErrInvalidSettings.with(fmt.Errorf("range %d..%d cannot hold %d distinct values", s.MinValue, s.MaxValue, s.DatasetSize))
	case s.StepDelayMs < 0 || s.StepDelayMs > MAX_STEP_DELAY:
		return ErrInvalidSettings.with(fmt.Errorf("step delay must be between 0 and %dms", MAX_STEP_DELAY))
	}
	return nil
}

// GenerateDataset derives the race dataset from seed. The same seed and
// settings always produce the same dataset, so a revealed seed lets
// clients check the input was not picked after bets were placed.
func GenerateDataset(seed string, s Settings) ([]int, error) {
	if err := ValidateSettings(s, s.DatasetSize); err != nil {
		return nil, err
	}
	r := mrand.New(mrand.NewChaCha8(sha256.Sum256([]byte(seed))))
	span := s.MaxValue - s.MinValue + 1
	out := make([]int, s.DatasetSize)

	if s.AllowDuplicates {
		for i := range out {
			out[i] = s.MinValue + r.IntN(span)
		}
		return out, nil
	}

	// Floyd's sampling of distinct offsets, then a shuffle for order.
	chosen := make(map[int]struct{}, s.DatasetSize)
	i := 0
	for j := span - s.DatasetSize; j < span; j++ {
		v := r.IntN(j + 1)
		if _, taken := chosen[v]; taken {
			v = j
		}
		chosen[v] = struct{}{}
		out[i] = s.MinValue + v
		i++
	}
	r.Shuffle(len(out), func(a, b int) { out[a], out[b] = out[b], out[a] })
	return out, nil
}

// VerifyDataset reports whether dataset is the one seed produces under s.
func VerifyDataset(seed string, s Settings, dataset []int) bool {
	want, err := GenerateDataset(seed, s)
	if err != nil {
		return false
	}
	return slices.Equal(want, dataset)
}
