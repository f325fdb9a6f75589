package core

// The kernels fold one rate category for patterns k0..k1-1. dst, the
// partials and the states are category blocks laid out as
// (pattern, state); matrices are (parent state, child state). A state
// equal to s is missing data and contributes 1.

func statesStates[T Float](dst []T, s1 []int32, m1 []T, s2 []int32, m2 []T, k0, k1, s int) {
	for k := k0; k < k1; k++ {
		a, b := int(s1[k]), int(s2[k])
		row := dst[k*s : (k+1)*s]
		for i := range row {
			v := T(1)
			if a < s {
				v = m1[i*s+a]
			}
			if b < s {
				v *= m2[i*s+b]
			}
			row[i] = v
		}
	}
}

func statesPartials[T Float](dst []T, s1 []int32, m1 []T, p2 []T, m2 []T, k0, k1, s int) {
	for k := k0; k < k1; k++ {
		a := int(s1[k])
		p := p2[k*s : (k+1)*s]
		row := dst[k*s : (k+1)*s]
		for i := range row {
			mr := m2[i*s : (i+1)*s]
			var sum T
			for j, v := range p {
				sum += mr[j] * v
			}
			if a < s {
				sum *= m1[i*s+a]
			}
			row[i] = sum
		}
	}
}

func partialsPartials[T Float](dst []T, p1, m1, p2, m2 []T, k0, k1, s int) {
	for k := k0; k < k1; k++ {
		q1 := p1[k*s : (k+1)*s]
		q2 := p2[k*s : (k+1)*s]
		row := dst[k*s : (k+1)*s]
		for i := range row {
			r1 := m1[i*s : (i+1)*s]
			r2 := m2[i*s : (i+1)*s]
			var sum1, sum2 T
			for j := range q1 {
				sum1 += r1[j] * q1[j]
				sum2 += r2[j] * q2[j]
			}
			row[i] = sum1 * sum2
		}
	}
}
