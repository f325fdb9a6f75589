package bio

// NStates is the number of nucleotide states.
const NStates = 4

var (
	// Alphabet is the order of nucleotide states.
	Alphabet = [NStates]byte{'T', 'C', 'A', 'G'}

	// iupac maps a nucleotide code to the set of compatible states as a
	// bit mask. Unknown characters, gaps and N are fully ambiguous.
	iupac = map[byte]uint8{
		'T': 1, 'U': 1, 'C': 2, 'A': 4, 'G': 8,
		'Y': 1 | 2, 'R': 4 | 8, 'W': 1 | 4, 'S': 2 | 8,
		'K': 1 | 8, 'M': 2 | 4,
		'B': 1 | 2 | 8, 'D': 1 | 4 | 8, 'H': 1 | 2 | 4, 'V': 2 | 4 | 8,
	}
)

const missing = 1<<NStates - 1

// Mask returns the states compatible with the nucleotide code c.
func Mask(c byte) uint8 {
	if m, ok := iupac[c]; ok {
		return m
	}
	return missing
}

// State returns the state of an unambiguous code or -1.
func State(c byte) int {
	return stateOf(Mask(c))
}
