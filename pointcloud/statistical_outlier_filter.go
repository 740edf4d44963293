package pointcloud

import (
	"context"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/mocap/utils"
)

// StatisticalOutlierFilter returns a function that drops samples whose mean distance to their
// meanK nearest neighbours is more than stdDevThresh standard deviations above the cloud's mean.
func StatisticalOutlierFilter(meanK int, stdDevThresh float64) (func(context.Context, Cloud) (Cloud, error), error) {
	if meanK <= 0 {
		return nil, errors.Errorf("argument meanK must be a positive int, got %d", meanK)
	}
	if stdDevThresh <= 0.0 {
		return nil, errors.Errorf("argument stdDevThresh must be a positive float, got %.2f", stdDevThresh)
	}
	return func(ctx context.Context, cloud Cloud) (Cloud, error) {
		if len(cloud) <= meanK {
			return cloud, nil
		}
		idx := NewColoredIndex(cloud, 0)
		meanDists := make([]float64, len(cloud))
		err := utils.ParallelFor(ctx, len(cloud), func(i int) {
			// the point itself is always its own nearest neighbour
			neighbors := idx.NearestK(cloud[i], meanK+1)
			var sum float64
			var n int
			for _, nb := range neighbors {
				if nb.Index == i {
					continue
				}
				sum += math.Sqrt(nb.SqDist)
				n++
			}
			if n > 0 {
				meanDists[i] = sum / float64(n)
			}
		})
		if err != nil {
			return nil, err
		}
		mean, err := stats.Mean(meanDists)
		if err != nil {
			return nil, err
		}
		stdDev, err := stats.StandardDeviation(meanDists)
		if err != nil {
			return nil, err
		}
		threshold := mean + stdDevThresh*stdDev
		out := make(Cloud, 0, len(cloud))
		for i, s := range cloud {
			if meanDists[i] <= threshold {
				out = append(out, s)
			}
		}
		return out, nil
	}, nil
}
