package testing

// PageIDs splits ids given in creation order into the pages a backward paginator delivers:
// the first page holds the newest size ids, each page keeps oldest first order
// e.g. [1, 2, 3, 4, 5] with size 2 -> [[4, 5], [2, 3], [1]]
func PageIDs(ids []int64, size int) [][]int64 {
	pages := make([][]int64, 0, (len(ids)+size-1)/size)
	for end := len(ids); end > 0; end -= size {
		start := end - size
		if start < 0 {
			start = 0
		}
		page := make([]int64, end-start)
		copy(page, ids[start:end])
		pages = append(pages, page)
	}

	return pages
}
