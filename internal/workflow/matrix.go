package workflow

import (
	"fmt"
	"sort"
)

// MaxCombinations caps how many cells one matrix may expand to.
const MaxCombinations = 256

// ExpandMatrix expands a matrix into concrete combinations. Axes cross in
// declaration order with the first axis varying slowest, exclude entries
// drop every cell whose values they all match, and include entries either
// merge extra keys into the cells their axis keys match or append a new
// standalone cell when nothing matches.
func ExpandMatrix(m *Matrix) ([]Combination, error) {
	if m == nil {
		return nil, nil
	}
	var combos []Combination
	if len(m.Axes) == 0 {
		for _, entry := range m.Include {
			combos = append(combos, combinationFrom(entry))
		}
	} else {
		combos = []Combination{{Values: map[string]string{}}}
		for _, axis := range m.Axes {
			next := make([]Combination, 0, len(combos)*len(axis.Values))
			for _, c := range combos {
				for _, v := range axis.Values {
					nc := c.clone()
					nc.set(axis.Key, v)
					next = append(next, nc)
				}
			}
			combos = next
		}
		combos = applyExclude(combos, m.Exclude)
		combos = applyInclude(combos, m)
	}
	if len(combos) > MaxCombinations {
		return nil, fmt.Errorf("matrix expands to %d combinations, limit is %d", len(combos), MaxCombinations)
	}
	return combos, nil
}

func applyExclude(combos []Combination, exclude []map[string]string) []Combination {
	if len(exclude) == 0 {
		return combos
	}
	out := make([]Combination, 0, len(combos))
	for _, c := range combos {
		excluded := false
		for _, entry := range exclude {
			if entryMatches(c, entry) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, c)
		}
	}
	return out
}

func applyInclude(combos []Combination, m *Matrix) []Combination {
	axes := make(map[string]bool, len(m.Axes))
	for _, a := range m.Axes {
		axes[a.Key] = true
	}
	for _, entry := range m.Include {
		axisPart := make(map[string]string)
		var extraKeys []string
		for k, v := range entry {
			if axes[k] {
				axisPart[k] = v
			} else {
				extraKeys = append(extraKeys, k)
			}
		}
		sort.Strings(extraKeys)
		matched := false
		for i := range combos {
			if entryMatches(combos[i], axisPart) {
				matched = true
				for _, k := range extraKeys {
					combos[i].set(k, entry[k])
				}
			}
		}
		if !matched {
			combos = append(combos, combinationFrom(entry))
		}
	}
	return combos
}

// entryMatches reports whether every key of entry has the same value in c.
func entryMatches(c Combination, entry map[string]string) bool {
	for k, v := range entry {
		if c.Values[k] != v {
			return false
		}
	}
	return true
}
