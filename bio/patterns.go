package bio

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Patterns is an alignment compressed to unique columns.
type Patterns struct {
	// Names of the taxa in alignment order.
	Names []string
	// Masks[taxon][pattern] is the set of compatible states.
	Masks [][]uint8
	// Weights is the number of sites with every pattern.
	Weights []float64
	// SitePattern maps alignment columns to patterns.
	SitePattern []int
}

// Compress finds unique alignment columns in order of their first
// occurrence.
func Compress(seqs Sequences) (*Patterns, error) {
	n, err := seqs.Length()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("alignment has no sites")
	}
	p := &Patterns{
		Names:       make([]string, len(seqs)),
		Masks:       make([][]uint8, len(seqs)),
		SitePattern: make([]int, n),
	}
	for i, seq := range seqs {
		p.Names[i] = seq.Name
	}
	seen := make(map[string]int, n)
	col := make([]byte, len(seqs))
	for pos := 0; pos < n; pos++ {
		for i, seq := range seqs {
			col[i] = Mask(seq.Sequence[pos])
		}
		k, ok := seen[string(col)]
		if !ok {
			k = len(p.Weights)
			seen[string(col)] = k
			p.Weights = append(p.Weights, 0)
			for i := range seqs {
				p.Masks[i] = append(p.Masks[i], col[i])
			}
		}
		p.Weights[k]++
		p.SitePattern[pos] = k
	}
	log.Debugf("%d sites compressed to %d patterns", n, len(p.Weights))
	return p, nil
}

// NPatterns returns the number of unique patterns.
func (p *Patterns) NPatterns() int {
	return len(p.Weights)
}

// NSites returns the alignment length.
func (p *Patterns) NSites() int {
	return len(p.SitePattern)
}

// Taxon returns the index of a taxon by name.
func (p *Patterns) Taxon(name string) (int, error) {
	for i, n := range p.Names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("taxon %q not found in the alignment", name)
}

// Ambiguous reports whether a taxon has partially ambiguous codes, which
// cannot be represented as states.
func (p *Patterns) Ambiguous(taxon int) bool {
	for _, m := range p.Masks[taxon] {
		if m != missing && stateOf(m) < 0 {
			return true
		}
	}
	return false
}

// States returns the state of every pattern for a taxon, -1 for
// ambiguous and missing data.
func (p *Patterns) States(taxon int) []int {
	res := make([]int, len(p.Weights))
	for k, m := range p.Masks[taxon] {
		res[k] = stateOf(m)
	}
	return res
}

// Partials returns the tip partials of a taxon: pattern-major, 1 for
// every compatible state.
func (p *Patterns) Partials(taxon int) []float64 {
	res := make([]float64, len(p.Weights)*NStates)
	for k, m := range p.Masks[taxon] {
		for i := 0; i < NStates; i++ {
			if m&(1<<i) != 0 {
				res[k*NStates+i] = 1
			}
		}
	}
	return res
}

// Frequencies returns empirical state frequencies. An ambiguous code
// counts equally towards every compatible state, missing data are
// ignored.
func (p *Patterns) Frequencies() []float64 {
	f := make([]float64, NStates)
	for _, masks := range p.Masks {
		for k, m := range masks {
			if m == missing {
				continue
			}
			n := 0
			for i := 0; i < NStates; i++ {
				if m&(1<<i) != 0 {
					n++
				}
			}
			for i := 0; i < NStates; i++ {
				if m&(1<<i) != 0 {
					f[i] += p.Weights[k] / float64(n)
				}
			}
		}
	}
	sum := floats.Sum(f)
	if sum == 0 {
		log.Warning("No data to estimate frequencies, using equal frequencies")
		for i := range f {
			f[i] = 1 / float64(NStates)
		}
		return f
	}
	floats.Scale(1/sum, f)
	return f
}

// NFixed returns the number of sites where every taxon with data has
// the same unambiguous state.
func (p *Patterns) NFixed() (n int) {
	for k, w := range p.Weights {
		if p.fixed(k) {
			n += int(w)
		}
	}
	return
}

func (p *Patterns) fixed(k int) bool {
	state := -1
	for _, masks := range p.Masks {
		m := masks[k]
		if m == missing {
			continue
		}
		s := stateOf(m)
		if s < 0 || (state >= 0 && s != state) {
			return false
		}
		state = s
	}
	return state >= 0
}

func stateOf(m uint8) int {
	switch m {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	return -1
}
