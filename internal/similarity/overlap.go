package similarity

// Overlap returns |a ∩ b| for two ascending, duplicate-free slices.
func Overlap(a, b []uint32) int {
	var i, j, n int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
