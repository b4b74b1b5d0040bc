package inject

import (
	"github.com/boljen/go-bitmap"

	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// freeClusterBitmap marks every cluster the index claims, plus clusters 0
// and 1 (which never appear in the data area), so FindFreeClusters can scan
// it for unclaimed clusters the same way the teacher's block allocator scans
// a bitmap for free blocks.
func freeClusterBitmap(geometry *fat.Geometry, idx *fat.Index) bitmap.Bitmap {
	size := int(geometry.TotalClusters) + 2
	bm := bitmap.New(size)

	bm.Set(0, true)
	bm.Set(1, true)
	for cluster := range idx.Correct {
		if int(cluster) < size {
			bm.Set(int(cluster), true)
		}
	}

	return bm
}

// FindFreeClusters returns count cluster numbers the index doesn't claim,
// in ascending order, for use as a new file's allocation.
func FindFreeClusters(geometry *fat.Geometry, idx *fat.Index, count int) ([]fat.ClusterID, error) {
	bm := freeClusterBitmap(geometry, idx)

	var result []fat.ClusterID
	size := int(geometry.TotalClusters) + 2
	for i := 2; i < size && len(result) < count; i++ {
		if !bm.Get(i) {
			result = append(result, fat.ClusterID(i))
		}
	}

	if len(result) < count {
		return nil, errors.ErrExhausted.WithMessage("not enough free clusters")
	}

	return result, nil
}
