package models

import "slices"

// AppendCapped appends item and keeps the most recent limit entries.
// The list is ordered oldest-first, so eviction drops from the front.
func AppendCapped[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if limit > 0 && len(list) > limit {
		list = slices.Clone(list[len(list)-limit:])
	}
	return list
}

// PrependCapped inserts item at the head and keeps the first limit entries.
// The list is ordered newest-first, so eviction drops from the back.
func PrependCapped[T any](list []T, item T, limit int) []T {
	list = slices.Insert(list, 0, item)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// AppendUniqueCapped appends item unless an equal entry already exists.
// It reports whether the item was added.
func AppendUniqueCapped[T comparable](list []T, item T, limit int) ([]T, bool) {
	if slices.Contains(list, item) {
		return list, false
	}
	return AppendCapped(list, item, limit), true
}
