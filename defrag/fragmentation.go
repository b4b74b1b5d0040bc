package defrag

import "github.com/mkirienko/fatdefrag/file_systems/fat"

// FragmentationPercent reports how many allocated clusters hold a forward
// link that is neither end-of-chain nor the next cluster number, as a
// percentage of all allocated clusters (end-of-chain ones included), in
// [0, 100]. An image with no allocated clusters at all is reported as 0%
// fragmented, not a division error.
func FragmentationPercent(accessor *fat.Accessor) (float64, error) {
	var incorrect, allocated uint32

	totalClusters := accessor.Geometry.TotalClusters
	for i := fat.ClusterID(0); uint32(i) < totalClusters; i++ {
		value, err := accessor.ClusterValue(i)
		if err != nil {
			return 0, err
		}
		if value == 0 {
			continue
		}
		allocated++

		if accessor.IsEndOfChain(value) {
			continue
		}
		if fat.ClusterID(value) != i+1 {
			incorrect++
		}
	}

	if allocated == 0 {
		return 0, nil
	}
	return float64(incorrect) * 100 / float64(allocated), nil
}
