package testing

// ReverseIDs returns ids in reverse order without touching the argument,
// handy for turning creation order into newest first order
func ReverseIDs(ids []int64) []int64 {
	reversed := make([]int64, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	return reversed
}
