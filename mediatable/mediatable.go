// Package mediatable maps a BPB media descriptor byte to its human-readable
// meaning, purely for diagnostics output.
package mediatable

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

type mediaRow struct {
	Byte        string `csv:"byte"`
	Description string `csv:"description"`
}

//go:embed media.csv
var mediaRawCSV string

var descriptions map[uint8]string

func init() {
	descriptions = map[uint8]string{}

	reader := strings.NewReader(mediaRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row mediaRow) error {
		value, err := strconv.ParseUint(strings.TrimPrefix(row.Byte, "0x"), 16, 8)
		if err != nil {
			return fmt.Errorf("mediatable: invalid byte value %q: %w", row.Byte, err)
		}
		descriptions[uint8(value)] = row.Description
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// Describe returns the human-readable meaning of mediaByte, or "unknown
// media type" if it isn't one of the recognized BPB_Media values.
func Describe(mediaByte byte) string {
	if description, ok := descriptions[mediaByte]; ok {
		return description
	}
	return "unknown media type"
}
