// Package paginate drains server-paginated collections.
//
// A collection is described by a FetchFunc that returns one Page per call.
// The cursor is opaque: it is only ever passed back verbatim. An empty
// cursor means there is nothing more to fetch.
package paginate

import (
	"context"
	"iter"
)

// Page is one server response.
type Page[T any] struct {
	// Items are the page's results in server order.
	Items []T `json:"items"`

	// Cursor resumes after this page. Empty means iteration is complete.
	Cursor string `json:"cursor,omitempty"`
}

// FetchFunc retrieves the page that follows cursor. An empty cursor
// requests the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string) (*Page[T], error)

type options struct {
	cursor   string
	maxPages int
}

// Option configures iteration.
type Option func(*options)

// WithCursor resumes iteration from a cursor returned by an earlier run.
func WithCursor(cursor string) Option {
	return func(o *options) { o.cursor = cursor }
}

// WithMaxPages stops after n pages. Zero or negative means no limit.
func WithMaxPages(n int) Option {
	return func(o *options) { o.maxPages = n }
}

// Pages yields each fetched page in order.
//
// The first fetch always happens. Iteration ends when a page carries no
// cursor, or when a page is empty and echoes the cursor it was requested
// with (the server cannot make progress). A page with items is always
// followed, even when its cursor repeats. A fetch error is yielded once and
// ends iteration; nothing is retried.
func Pages[T any](ctx context.Context, fetch FetchFunc[T], opts ...Option) iter.Seq2[*Page[T], error] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(*Page[T], error) bool) {
		cursor := o.cursor
		for n := 0; o.maxPages <= 0 || n < o.maxPages; n++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := fetch(ctx, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if page == nil {
				page = &Page[T]{}
			}
			if !yield(page, nil) {
				return
			}
			if !hasNext(cursor, page) {
				return
			}
			cursor = page.Cursor
		}
	}
}

// hasNext reports whether another fetch should follow page, which was
// requested with sent.
func hasNext[T any](sent string, page *Page[T]) bool {
	if page.Cursor == "" {
		return false
	}
	if len(page.Items) == 0 && page.Cursor == sent {
		return false
	}
	return true
}

// All yields every item across pages in server order.
func All[T any](ctx context.Context, fetch FetchFunc[T], opts ...Option) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for page, err := range Pages(ctx, fetch, opts...) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Collect drains the collection into a single ordered slice.
//
// A nil error with an empty slice means the collection is empty.
func Collect[T any](ctx context.Context, fetch FetchFunc[T], opts ...Option) ([]T, error) {
	items := []T{}
	for item, err := range All(ctx, fetch, opts...) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
