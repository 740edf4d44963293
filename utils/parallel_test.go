package utils

import (
	"context"
	"image"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, size := range []int{0, 1, 7, ParallelFactor, 1001} {
		seen := make([]int, size)
		var mu sync.Mutex
		groups := 0
		err := GroupWorkParallel(context.Background(), size, func(numGroups int) {
			groups = numGroups
		}, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
					mu.Lock()
					seen[workNum]++
					mu.Unlock()
				}, func() {
					test.That(t, to-from, test.ShouldEqual, groupSize)
				}
		})
		test.That(t, err, test.ShouldBeNil)
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
		if size > 0 {
			test.That(t, groups, test.ShouldBeGreaterThan, 0)
		}
	}
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := atomic.NewBool(false)
	err := ParallelFor(ctx, 10, func(i int) { called.Store(true) })
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, called.Load(), test.ShouldBeFalse)
}

func TestParallelForEachPixel(t *testing.T) {
	size := image.Point{37, 23}
	var total atomic.Int64
	ParallelForEachPixel(size, func(x, y int) {
		total.Add(int64(x + y*size.X + 1))
	})
	n := int64(size.X * size.Y)
	test.That(t, total.Load(), test.ShouldEqual, n*(n+1)/2)
}
