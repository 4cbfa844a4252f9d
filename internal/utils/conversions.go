package utils

// ContainsAll reports whether every value in want is present in have.
func ContainsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// SameSet reports whether a and b hold the same values, ignoring order and duplicates.
func SameSet(a, b []string) bool {
	return ContainsAll(a, b) && ContainsAll(b, a)
}
