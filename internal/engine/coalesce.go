package engine

// keyed is an action with a natural key.
type keyed[K comparable] interface {
	Key() K
}

// coalesce collapses a batch to one action per natural key.
//
// The last action for a key wins, whatever came before it. A surviving
// delete with no durable row deletes nothing and a surviving create that
// already exists is reported as a duplicate, so the outcome always equals
// applying the last action alone. Survivors keep the order in which their
// key first appeared. touched lists every key in the batch once;
// superseded counts the actions replaced by a later one for the same key.
func coalesce[K comparable, T keyed[K]](batch []T) (survivors []T, touched []K, superseded int) {
	last := make(map[K]T, len(batch))
	for _, a := range batch {
		k := a.Key()
		if _, ok := last[k]; ok {
			superseded++
		} else {
			touched = append(touched, k)
		}
		last[k] = a
	}

	survivors = make([]T, 0, len(touched))
	for _, k := range touched {
		survivors = append(survivors, last[k])
	}
	return survivors, touched, superseded
}

// partition splits survivors into creates (on) and deletes.
func partition[T any](survivors []T, on func(T) bool) (creates, deletes []T) {
	for _, a := range survivors {
		if on(a) {
			creates = append(creates, a)
		} else {
			deletes = append(deletes, a)
		}
	}
	return creates, deletes
}
