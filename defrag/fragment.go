package defrag

import (
	"math/rand"
	"sort"

	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// Fragmenter scatters a file's clusters by repeatedly swapping two
// pseudo-randomly chosen indexed clusters, skipping the root directory and
// any directory's own clusters so only file data gets shuffled.
type Fragmenter struct {
	accessor *fat.Accessor
	swapper  *fat.Swapper
	idx      *fat.Index
}

// NewFragmenter returns a Fragmenter bound to idx.
func NewFragmenter(accessor *fat.Accessor, parser *fat.Parser, idx *fat.Index) *Fragmenter {
	return &Fragmenter{accessor: accessor, swapper: fat.NewSwapper(accessor, parser, idx.Correct), idx: idx}
}

// Run performs numSwaps pseudo-random cluster swaps drawn from r. Passing an
// externally seeded *rand.Rand, rather than letting Fragmenter seed its own,
// is what makes a fragmentation run reproducible across invocations.
func (f *Fragmenter) Run(numSwaps int, r *rand.Rand) error {
	clusters := make([]fat.ClusterID, 0, len(f.idx.Correct))
	for c := range f.idx.Correct {
		clusters = append(clusters, c)
	}
	if len(clusters) == 0 {
		return nil
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i] < clusters[j] })

	for i := 0; i < numSwaps; i++ {
		first := clusters[r.Intn(len(clusters))]
		second := clusters[r.Intn(len(clusters))]

		firstOwner := f.idx.Correct[first]
		secondOwner := f.idx.Correct[second]

		if firstOwner.Entry.Name == fat.RootPseudoName || secondOwner.Entry.Name == fat.RootPseudoName ||
			firstOwner.IsDirectory || secondOwner.IsDirectory {
			continue
		}

		if err := f.swapper.Swap(first, second); err != nil {
			return err
		}
	}

	return nil
}
