// Command fatdefrag inspects, defragments, and (for testing repair code)
// deliberately corrupts a FAT16/FAT32 disk image.
package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mkirienko/fatdefrag/defrag"
	"github.com/mkirienko/fatdefrag/fatimage"
	"github.com/mkirienko/fatdefrag/inject"
	"github.com/mkirienko/fatdefrag/repair"
)

// exitCodeMissingArgument is returned when an action that requires
// --folder or --fat_num is invoked without it.
const exitCodeMissingArgument = 50

func main() {
	// Info-level lines (the FAT variant, the fragmentation percentage) go to
	// stdout; warnings and errors go to stderr.
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	logger := zap.New(zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.InfoLevel && l < zapcore.WarnLevel
		})),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.WarnLevel),
	))
	defer logger.Sync()

	app := &cli.App{
		Name:      "fatdefrag",
		Usage:     "inspect, defragment, and stress-test FAT16/FAT32 disk images",
		ArgsUsage: "IMAGE_PATH ACTION",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "directory to inject an error into"},
			&cli.IntFlag{Name: "fat_num", Aliases: []string{"n"}, Value: -1, Usage: "FAT mirror index to corrupt"},
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			logger.Error("fatdefrag failed", zap.Error(err))
			os.Exit(exitErr.ExitCode())
		}
		logger.Error("fatdefrag failed", zap.Error(err))
		os.Exit(1)
	}
}

// writeRepairReportCSV writes the audit trail of every anomaly detection
// found, before any repair runs, to reportPath.
func writeRepairReportCSV(reportPath string, detection *repair.DetectionReport, logger *zap.Logger) error {
	report := repair.BuildRepairReport(detection)

	file, err := os.Create(reportPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := repair.WriteReportCSV(file, report); err != nil {
		return err
	}

	logger.Info("wrote repair report", zap.String("path", reportPath), zap.Int("rows", len(report.Rows)))
	return nil
}

// handleAnomalies mirrors the original tool's interactive error handler: it
// fixes whatever the open-time detection pass found, in the same priority
// order (mirror divergence, then loops, then intersections, then orphans).
// Fixing a mirror divergence, a loop, or an intersection stops the caller
// from proceeding to the requested action, the same way the original raises
// SystemExit after repairing; a clean orphan scrub falls through so the
// action still runs.
func handleAnomalies(fs *fatimage.FileSystem, logger *zap.Logger) (stop bool, err error) {
	report := fs.Detection
	repairer := repair.NewRepairer(fs.Accessor, fs.Parser)

	if report.HasMirrorDivergence() {
		logger.Warn("FAT mirrors disagree", zap.Int("clusters", len(report.MirrorDivergences)))
		fmt.Printf("Choose the authoritative FAT table (0-%d): ", fs.Geometry.NumFATs-1)
		var correctFAT int
		if _, scanErr := fmt.Scan(&correctFAT); scanErr != nil {
			return false, fmt.Errorf("reading authoritative FAT index: %w", scanErr)
		}
		if err := repairer.FixMirrorDivergence(report.MirrorDivergences, correctFAT); err != nil {
			return false, err
		}
		logger.Info("FAT mirrors repaired")
		return true, nil
	}

	if fs.Index == nil {
		return false, nil
	}

	if report.HasLoopedFiles() {
		logger.Warn("looped files found", zap.Int("count", len(report.LoopedEntries)))
		if err := repairer.FixLoopedFiles(report.LoopedEntries); err != nil {
			return false, err
		}
		cleared, err := repairer.ClearOrphanClusters(fs.Index)
		if err != nil {
			return false, err
		}
		logger.Info("looped files deleted", zap.Int("clusters_freed", len(cleared)))
		return true, nil
	}

	if report.HasIntersectingFiles() {
		logger.Warn("intersecting files found", zap.Int("groups", len(report.Intersections)))
		if err := repairer.FixIntersectingFiles(report.Intersections); err != nil {
			return false, err
		}
		cleared, err := repairer.ClearOrphanClusters(fs.Index)
		if err != nil {
			return false, err
		}
		logger.Info("intersecting files deleted", zap.Int("clusters_freed", len(cleared)))
		return true, nil
	}

	if report.HasOrphanClusters() {
		cleared, err := repairer.ClearOrphanClusters(fs.Index)
		if err != nil {
			return false, err
		}
		logger.Info("orphan clusters scrubbed", zap.Int("count", len(cleared)))
	}

	return false, nil
}

func run(c *cli.Context, logger *zap.Logger) error {
	path := c.Args().Get(0)
	action := c.Args().Get(1)
	if path == "" || action == "" {
		return cli.Exit("usage: fatdefrag IMAGE_PATH ACTION", 1)
	}

	fs, err := fatimage.Open(path, logger)
	if err != nil {
		return err
	}
	defer fs.Close()

	logger.Info("opened image", zap.String("variant", fs.Geometry.VariantName()))

	if err := writeRepairReportCSV(path+".repair-report.csv", fs.Detection, logger); err != nil {
		return err
	}

	stop, err := handleAnomalies(fs, logger)
	if err != nil {
		return err
	}
	if stop {
		return nil
	}

	switch action {
	case "tree":
		logger.Info("tree printing is out of scope; use the indexed table directly")

	case "fragmentation":
		pct, err := defrag.FragmentationPercent(fs.Accessor)
		if err != nil {
			return err
		}
		logger.Info("fragmentation before", zap.Int("percent", int(pct)))

		if fs.Index == nil {
			return fmt.Errorf("cannot fragment: FAT mirrors disagree, repair first")
		}
		fragmenter := defrag.NewFragmenter(fs.Accessor, fs.Parser, fs.Index)
		if err := fragmenter.Run(1000, rand.New(rand.NewSource(1))); err != nil {
			return err
		}

	case "defragmentation":
		if fs.Index == nil {
			return fmt.Errorf("cannot defragment: FAT mirrors disagree, repair first")
		}
		defragmenter := defrag.NewDefragmenter(fs.Accessor, fs.Parser, fs.Index)
		if err := defragmenter.Run(); err != nil {
			return err
		}

	case "error_fat_table":
		fatNum := c.Int("fat_num")
		if fatNum < 0 {
			logger.Error("missing required --fat_num")
			os.Exit(exitCodeMissingArgument)
		}
		if fs.Index == nil {
			return fmt.Errorf("cannot inject: FAT mirrors already disagree")
		}
		injector := inject.NewInjector(fs.Accessor, fs.Parser, fs.Index)
		if err := injector.InjectMirrorDivergence(fatNum, rand.New(rand.NewSource(1))); err != nil {
			return err
		}

	case "error_looped_file":
		folder := c.String("folder")
		if folder == "" {
			logger.Error("missing required --folder")
			os.Exit(exitCodeMissingArgument)
		}
		if fs.Index == nil {
			return fmt.Errorf("cannot inject: FAT mirrors already disagree")
		}
		injector := inject.NewInjector(fs.Accessor, fs.Parser, fs.Index)
		if err := injector.InjectLoopedFile(folder); err != nil {
			return err
		}

	case "error_intersected_files":
		folder := c.String("folder")
		if folder == "" {
			logger.Error("missing required --folder")
			os.Exit(exitCodeMissingArgument)
		}
		if fs.Index == nil {
			return fmt.Errorf("cannot inject: FAT mirrors already disagree")
		}
		injector := inject.NewInjector(fs.Accessor, fs.Parser, fs.Index)
		if err := injector.InjectIntersectingFiles(folder); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown action %q", action)
	}

	pct, err := defrag.FragmentationPercent(fs.Accessor)
	if err != nil {
		return err
	}
	logger.Info("fragmentation after", zap.Int("percent", int(pct)))

	return nil
}
