package pagination

import (
	"context"
	"errors"
	"iter"
	"net/url"

	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var helixPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helix_pages_fetched_total",
	Help: "Total pages fetched by pagination streams by endpoint",
}, []string{"endpoint"})

// Done is returned by Stream.Next when the stream is exhausted.
var Done = errors.New("no more items in stream")

// Getter performs one GET request with retries and decodes the JSON body
// into v. *client.Client implements it.
type Getter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, v any) error
}

// Info is the pagination object of a Helix page.
type Info struct {
	Cursor string `json:"cursor,omitempty"`
}

// Page is one decoded response of a paginated endpoint.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Pagination Info `json:"pagination"`
}

// Next returns the cursor of the page after this one.
func (p *Page[T]) Next() Cursor {
	return At(p.Pagination.Cursor)
}

// Stream lazily yields the items of a paginated endpoint, fetching the next
// page only once the buffered items are used up.
type Stream[T any] struct {
	getter   Getter
	rawURL   string
	endpoint string
	params   url.Values
	cursor   Cursor
	buf      []T
	pages    int
	logger   zerolog.Logger
}

// New creates a stream over rawURL. params are sent with every page request;
// the after parameter is managed by the stream.
func New[T any](getter Getter, rawURL string, params url.Values) *Stream[T] {
	endpoint := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		endpoint = u.Path
	}
	return &Stream[T]{
		getter:   getter,
		rawURL:   rawURL,
		endpoint: endpoint,
		params:   params,
		cursor:   Start(),
		logger:   logging.NewLogger(logging.ComponentPagination),
	}
}

// Pages returns the number of pages fetched so far.
func (s *Stream[T]) Pages() int {
	return s.pages
}

// Next returns the next item. It returns Done once the stream is exhausted.
// A fetch error is returned once; the stream is exhausted afterwards.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for len(s.buf) == 0 {
		if s.cursor.IsEnd() {
			return zero, Done
		}
		if err := s.fetch(ctx); err != nil {
			s.cursor = End()
			return zero, err
		}
	}

	item := s.buf[0]
	s.buf[0] = zero
	s.buf = s.buf[1:]
	return item, nil
}

func (s *Stream[T]) fetch(ctx context.Context) error {
	var page Page[T]
	if err := s.getter.GetJSON(ctx, s.rawURL, s.cursor.query(s.params), &page); err != nil {
		s.logger.Debug().
			Err(err).
			Str("endpoint", s.endpoint).
			Int("page", s.pages+1).
			Msg("Page fetch failed, ending stream")
		return err
	}

	s.pages++
	helixPagesFetchedTotal.WithLabelValues(s.endpoint).Inc()

	if len(page.Data) == 0 {
		s.cursor = End()
	} else {
		s.buf = page.Data
		s.cursor = page.Next()
	}

	s.logger.Debug().
		Str("endpoint", s.endpoint).
		Int("page", s.pages).
		Int("items", len(page.Data)).
		Bool("last", s.cursor.IsEnd()).
		Msg("Fetched page")

	return nil
}

// All returns the remaining items as a sequence for use with range.
// Iteration stops after the first error.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := s.Next(ctx)
			if err == Done {
				return
			}
			if err != nil {
				yield(item, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
