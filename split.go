package qsvm

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// ErrSplitSize is returned when the requested split does not fit the data.
var ErrSplitSize = errors.New("qsvm: invalid split size")

type SplitConfig struct {
	TrainSize int    `mapstructure:"train_size"`
	TestSize  int    `mapstructure:"test_size"`
	Seed      uint64 `mapstructure:"seed"`
}

/*
Split draws a stratified train and test set. Each class gets a share of
both sets proportional to its size, rounded by largest remainder, and at
least one slot whenever the set has room for every class. The same seed
and input always give the same split.
*/
func Split(ds *Dataset, cfg SplitConfig) (train, test *Dataset, err error) {
	n := ds.Len()
	if cfg.TrainSize <= 0 || cfg.TestSize <= 0 || cfg.TrainSize+cfg.TestSize > n {
		return nil, nil, fmt.Errorf("%w: train %d + test %d of %d samples", ErrSplitSize, cfg.TrainSize, cfg.TestSize, n)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	groups := ds.ByClass()
	labels := make([]int, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	sizes := make([]int, len(labels))
	for i, label := range labels {
		idx := groups[label]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		sizes[i] = len(idx)
	}

	trainAlloc := allocate(cfg.TrainSize, sizes, sizes)

	remaining := make([]int, len(sizes))
	for i := range sizes {
		remaining[i] = sizes[i] - trainAlloc[i]
	}
	testAlloc := allocate(cfg.TestSize, sizes, remaining)

	var trainIdx, testIdx []int
	for i, label := range labels {
		idx := groups[label]
		trainIdx = append(trainIdx, idx[:trainAlloc[i]]...)
		testIdx = append(testIdx, idx[trainAlloc[i]:trainAlloc[i]+testAlloc[i]]...)
	}

	rng.Shuffle(len(trainIdx), func(a, b int) { trainIdx[a], trainIdx[b] = trainIdx[b], trainIdx[a] })
	rng.Shuffle(len(testIdx), func(a, b int) { testIdx[a], testIdx[b] = testIdx[b], testIdx[a] })

	logger.Debug("split", "train", trainAlloc, "test", testAlloc, "seed", cfg.Seed)

	return ds.subset(trainIdx), ds.subset(testIdx), nil
}

// allocate shares total over groups in proportion to weights, never giving
// a group more than avail. Callers guarantee total <= sum(avail).
func allocate(total int, weights, avail []int) []int {
	out := make([]int, len(weights))
	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		return out
	}

	rem := make([]int, len(weights))
	left := total
	for i, w := range weights {
		out[i] = min(total*w/sum, avail[i])
		rem[i] = total * w % sum
		left -= out[i]
	}

	// Largest remainder first; the stable sort keeps class order on ties.
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return rem[b] - rem[a] })

	for left > 0 {
		progressed := false
		for _, i := range order {
			if left == 0 {
				break
			}
			if out[i] < avail[i] {
				out[i]++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	if total < len(weights) {
		return out
	}

	for i := range out {
		if out[i] > 0 || avail[i] == 0 {
			continue
		}
		donor := -1
		for j := range out {
			if out[j] > 1 && (donor < 0 || out[j] > out[donor]) {
				donor = j
			}
		}
		if donor < 0 {
			break
		}
		out[donor]--
		out[i]++
	}

	return out
}
