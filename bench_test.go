package backshift

import (
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapIter[int64], genKeys[int64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkBackshiftMapGetHit[string], genKeys[string]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkBackshiftMapGetMiss[string], genKeys[string]))
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutGrow[string], genKeys[string]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapPutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkBackshiftMapPutGrow[string], genKeys[string]))
	})
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutPreAllocate[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutPreAllocate[string], genKeys[string]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapPutPreAllocate[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkBackshiftMapPutPreAllocate[string], genKeys[string]))
	})
}

// PutDelete measures churn: repeated paired erases and inserts of the same
// key range, the workload backward-shift deletion exists for.
func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutDelete[string], genKeys[string]))
	})
	b.Run("impl=backshiftMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkBackshiftMapPutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkBackshiftMapPutDelete[string], genKeys[string]))
	})
}

type benchTypes interface {
	int64 | string
}

// benchEmptyKey returns a sentinel outside the range genKeys produces.
func benchEmptyKey[T benchTypes]() T {
	var t T
	switch any(t).(type) {
	case int64:
		return any(int64(-1 << 62)).(T)
	case string:
		return any("\x00sentinel").(T)
	default:
		panic("not reached")
	}
}

func benchNew[T benchTypes](b *testing.B, capacityHint int) *Map[T, T] {
	m, err := New[T, T](capacityHint, benchEmptyKey[T]())
	if err != nil {
		b.Fatal(err)
	}
	return m
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	keys := make([]T, end-start)
	var t T
	switch any(t).(type) {
	case int64:
		for i := range keys {
			keys[i] = any(int64(start + i)).(T)
		}
	case string:
		for i := range keys {
			keys[i] = any(strconv.Itoa(start + i)).(T)
		}
	default:
		panic("not reached")
	}
	return keys
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	var sink int
	for i := 0; i < b.N; i++ {
		for range m {
			sink++
		}
	}
}

func benchmarkBackshiftMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := benchNew[T](b, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	var sink int
	for i := 0; i < b.N; i++ {
		m.All(func(k, v T) bool {
			sink++
			return true
		})
	}
}

func benchmarkRuntimeMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	// Regenerate the keys so string lookups don't share backing data with
	// the stored keys, which the runtime map short-circuits on.
	keys = genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%n]]
	}
}

func benchmarkBackshiftMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := benchNew[T](b, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	keys = genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_, _ = m.At(keys[i%n])
	}
}

func benchmarkRuntimeMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T)
	keys := genKeys(0, n)
	miss := genKeys(n, 2*n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%n]]
	}
}

func benchmarkBackshiftMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := benchNew[T](b, 0)
	keys := genKeys(0, n)
	miss := genKeys(n, 2*n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m.Count(miss[i%n])
	}
}

func benchmarkRuntimeMapPutGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkBackshiftMapPutGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := benchNew[T](b, 0)
		for _, k := range keys {
			m.Insert(k, k)
		}
	}
}

func benchmarkRuntimeMapPutPreAllocate[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[T]T, n)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkBackshiftMapPutPreAllocate[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := benchNew[T](b, 2*n)
		for _, k := range keys {
			m.Insert(k, k)
		}
	}
}

func benchmarkRuntimeMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkBackshiftMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := benchNew[T](b, 2*n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	_ = perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		m.EraseKey(keys[j])
		m.Insert(keys[j], keys[j])
	}
}
