// Package fatimage ties geometry parsing, FAT access, directory parsing,
// indexing, and anomaly detection together into a single open call, the way
// the original tool's parse_disk_image entry point does.
package fatimage

import (
	"os"

	"go.uber.org/zap"

	"github.com/mkirienko/fatdefrag/file_systems/fat"
	"github.com/mkirienko/fatdefrag/imageio"
	"github.com/mkirienko/fatdefrag/mediatable"
	"github.com/mkirienko/fatdefrag/repair"
)

// FileSystem is the result of opening and analyzing a FAT image: its parsed
// geometry, the accessor and parser bound to it, the indexed cluster table
// (nil if the FAT mirrors disagreed, in which case indexing is skipped), and
// whatever anomalies detection found.
type FileSystem struct {
	Geometry  *fat.Geometry
	Accessor  *fat.Accessor
	Parser    *fat.Parser
	Index     *fat.Index
	Detection *repair.DetectionReport

	file   *os.File
	logger *zap.Logger
}

// Open parses path as a FAT image and runs detection against it. It returns
// a *FileSystem regardless of whether anomalies were found: mirror
// divergence is checked first, and if it's found, indexing is skipped
// entirely (a divergent mirror makes "which owner is correct" meaningless
// until the caller resolves which mirror to trust), but the FileSystem is
// still returned, with a nil Index, so the caller can inspect and repair
// it.
func Open(path string, logger *zap.Logger) (*FileSystem, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	img := imageio.New(file)

	geometry, err := fat.ParseGeometry(img)
	if err != nil {
		file.Close()
		return nil, err
	}
	logger.Info("parsed image geometry", zap.String("variant", geometry.VariantName()),
		zap.Uint32("total_clusters", geometry.TotalClusters),
		zap.String("media", mediatable.Describe(geometry.Media)))

	accessor := fat.NewAccessor(img, geometry)
	parser := fat.NewParser(accessor, img)
	detector := repair.NewDetector(accessor)

	fs := &FileSystem{
		Geometry: geometry,
		Accessor: accessor,
		Parser:   parser,
		file:     file,
		logger:   logger,
	}

	divergent, err := detector.CheckMirrorDivergence()
	if err != nil {
		file.Close()
		return nil, err
	}
	if len(divergent) != 0 {
		logger.Warn("FAT mirrors disagree, skipping indexing until repaired", zap.Int("cluster_count", len(divergent)))
		fs.Detection = &repair.DetectionReport{MirrorDivergences: divergent}
		return fs, nil
	}

	idx, err := fat.NewIndexer(accessor, parser).Build()
	if err != nil {
		file.Close()
		return nil, err
	}
	fs.Index = idx

	report, err := detector.Run(idx)
	if err != nil {
		file.Close()
		return nil, err
	}
	fs.Detection = report

	if report.HasLoopedFiles() || report.HasIntersectingFiles() {
		logger.Warn("anomalies detected",
			zap.Int("looped", len(report.LoopedEntries)),
			zap.Int("intersecting_groups", len(report.Intersections)))
	}

	return fs, nil
}

// Close releases the underlying image file.
func (fs *FileSystem) Close() error {
	return fs.file.Close()
}
