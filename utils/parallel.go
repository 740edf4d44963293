package utils

import (
	"context"
	"image"
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated group size.
	BeforeParallelGroupWorkFunc func(groupSize int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel parallelizes the given size of work over multiple workers. Work is split
// into contiguous ranges, one per group, whose sizes differ by at most one. The context is only
// consulted before work starts; individual members are never interrupted.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	numGroups := ParallelFactor
	if totalSize < numGroups {
		numGroups = totalSize
	}
	if numGroups <= 0 {
		return nil
	}
	if before != nil {
		before(numGroups)
	}

	base, extra := totalSize/numGroups, totalSize%numGroups
	var wait sync.WaitGroup
	wait.Add(numGroups)
	from := 0
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		size := base
		if groupNum < extra {
			size++
		}
		groupNum, start, end := groupNum, from, from+size
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			memberWork, groupWorkDone := groupWork(groupNum, end-start, start, end)
			if memberWork != nil {
				for workNum := start; workNum < end; workNum++ {
					memberWork(workNum-start, workNum)
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		})
		from = end
	}
	wait.Wait()
	return nil
}

// ParallelFor calls f for every index in [0, n) using GroupWorkParallel.
func ParallelFor(ctx context.Context, n int, f func(i int)) error {
	return GroupWorkParallel(ctx, n, nil, func(_, _, _, _ int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(_, workNum int) { f(workNum) }, nil
	})
}

// ParallelForEachPixel calls f for every pixel of an image of the given size, splitting the rows
// into bands that run in parallel.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	//nolint:errcheck
	ParallelFor(context.Background(), size.Y, func(y int) {
		for x := 0; x < size.X; x++ {
			f(x, y)
		}
	})
}
