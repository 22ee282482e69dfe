// Package workers 将 [0, n) 切分为连续分片并发处理。
//
// 每个分片的结果由调用方写入以分片下标区分的槽位，合并时按分片顺序进行，
// 因此结果与 workers 数量无关。
package workers

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Normalize 返回实际使用的并发数：<= 0 时取 GOMAXPROCS
func Normalize(workers int) int {
	if workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return workers
}

// Chunks 返回把 n 个单元切成的分片数（每个 worker 至多一个分片，不超过 n）
func Chunks(n, workers int) int {
	workers = Normalize(workers)
	if n < workers {
		return max(n, 1)
	}
	return workers
}

// Bounds 返回第 i 个分片的 [lo, hi)
func Bounds(n, chunks, i int) (int, int) {
	size := n / chunks
	rem := n % chunks
	lo := i*size + min(i, rem)
	hi := lo + size
	if i < rem {
		hi++
	}
	return lo, hi
}

// ForEachChunk 并发处理各分片，fn 收到分片下标与区间。任一分片出错时返回第一个错误。
func ForEachChunk(n, workers int, fn func(chunk, lo, hi int) error) error {
	chunks := Chunks(n, workers)
	if chunks == 1 {
		return fn(0, 0, n)
	}
	var eg errgroup.Group
	eg.SetLimit(Normalize(workers))
	for c := 0; c < chunks; c++ {
		lo, hi := Bounds(n, chunks, c)
		eg.Go(func() error {
			return fn(c, lo, hi)
		})
	}
	return eg.Wait()
}
