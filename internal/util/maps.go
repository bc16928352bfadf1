package util

import "maps"

// MergeMaps returns a new map holding the entries of both inputs. Keys present
// in both are combined with resolve; a nil resolver is a programming error.
func MergeMaps[K comparable, V any](a, b map[K]V, resolve func(x, y V) V) map[K]V {
	if resolve == nil {
		panic("util: MergeMaps requires a conflict resolver")
	}
	merged := make(map[K]V, max(len(a), len(b)))
	maps.Copy(merged, a)
	for k, v := range b {
		if existing, ok := merged[k]; ok {
			merged[k] = resolve(existing, v)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Max is a MergeMaps resolver keeping the larger value
func Max[V ~int | ~int64 | ~uint64](x, y V) V {
	return max(x, y)
}
