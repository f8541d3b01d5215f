package disparity

// FilterSpeckles replaces small connected regions of similar disparity
// with newVal. Neighbouring pixels (4-connectivity) join a region when
// their raw values differ by at most maxDiff. Regions of maxSize pixels
// or fewer are removed. Pixels already equal to newVal are skipped.
func FilterSpeckles(raw []int16, w, h int, newVal int16, maxSize, maxDiff int) {
	if maxSize <= 0 || maxDiff < 0 {
		return
	}
	labels := make([]int32, len(raw))
	stack := make([]int32, 0, 64)
	region := make([]int32, 0, 64)
	var label int32

	for start := range raw {
		if raw[start] == newVal || labels[start] != 0 {
			continue
		}
		label++
		labels[start] = label
		stack = append(stack[:0], int32(start))
		region = region[:0]
		for len(stack) > 0 {
			p := int(stack[len(stack)-1])
			stack = stack[:len(stack)-1]
			region = append(region, int32(p))
			v := int(raw[p])
			x, y := p%w, p/w
			visit := func(q int) {
				if labels[q] != 0 || raw[q] == newVal {
					return
				}
				d := int(raw[q]) - v
				if d < -maxDiff || d > maxDiff {
					return
				}
				labels[q] = label
				stack = append(stack, int32(q))
			}
			if x > 0 {
				visit(p - 1)
			}
			if x < w-1 {
				visit(p + 1)
			}
			if y > 0 {
				visit(p - w)
			}
			if y < h-1 {
				visit(p + w)
			}
		}
		if len(region) <= maxSize {
			for _, p := range region {
				raw[p] = newVal
			}
		}
	}
}
