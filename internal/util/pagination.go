package util

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxResultWindow matches Elasticsearch's default index.max_result_window.
	MaxResultWindow = 10000
)

// Calculate turns a 1-based page and a page size into an offset and limit.
// Out-of-range input falls back to the first page and the default size.
func Calculate(page, size int) (from, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	return (page - 1) * size, size
}

// InWindow reports whether the page of the given size ends within MaxResultWindow.
// It never computes an offset, so an absurd page cannot overflow.
func InWindow(page, size int) bool {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	return page-1 <= (MaxResultWindow-size)/size
}
