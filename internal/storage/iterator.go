package storage

import "context"

// PageFunc fetches the page after a cursor.
type PageFunc[T any] func(ctx context.Context, after uint64, limit int) (Page[T], error)

// Iterator walks a paginated source forward, fetching one page at a time.
type Iterator[T any] struct {
	fetch PageFunc[T]
	limit int
	after uint64
	buf   []T
	cur   T
	done  bool
	err   error
}

func NewIterator[T any](fetch PageFunc[T], after uint64, limit int) *Iterator[T] {
	return &Iterator[T]{fetch: fetch, after: after, limit: NormalizeLimit(limit)}
}

// Next advances to the next item, fetching a page when the buffer is empty.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		page, err := it.fetch(ctx, it.after, it.limit)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = page.Items
		it.done = !page.More || len(page.Items) == 0
		if len(page.Items) > 0 {
			it.after = page.Next
		}
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	return true
}

func (it *Iterator[T]) Value() T { return it.cur }

// Cursor returns the cursor of the last fetched page.
func (it *Iterator[T]) Cursor() uint64 { return it.after }

func (it *Iterator[T]) Err() error { return it.err }

// Collect drains up to n items, or all of them when n is zero.
func Collect[T any](ctx context.Context, it *Iterator[T], n int) ([]T, error) {
	var out []T
	for (n <= 0 || len(out) < n) && it.Next(ctx) {
		out = append(out, it.Value())
	}
	return out, it.Err()
}
