// Package imageio wraps a disk image with explicit cursor bookkeeping. Every
// other fatdefrag package reads and writes the image exclusively through an
// *Image rather than touching the underlying io.ReadWriteSeeker directly, so
// there is exactly one place that translates short reads and seek failures
// into fatdefrag's own error kinds.
package imageio

import (
	"encoding/binary"
	"io"

	"github.com/mkirienko/fatdefrag/errors"
)

// Image is a thin, stateful wrapper around an io.ReadWriteSeeker. It tracks
// its own cursor rather than trusting the underlying stream, because
// StepBack needs to reject a jump past the start of the image without a
// round trip through Seek.
type Image struct {
	stream   io.ReadWriteSeeker
	position int64
}

// New wraps stream for sequential access starting at offset 0.
func New(stream io.ReadWriteSeeker) *Image {
	return &Image{stream: stream}
}

// Position returns the current cursor offset from the start of the image.
func (img *Image) Position() int64 {
	return img.position
}

// SeekAbsolute moves the cursor to position, measured from the start of the
// image.
func (img *Image) SeekAbsolute(position int64) error {
	if position < 0 {
		return errors.ErrOutOfBounds.WithMessage("negative seek position")
	}

	if _, err := img.stream.Seek(position, io.SeekStart); err != nil {
		return errors.ErrIOFailure.WrapError(err)
	}

	img.position = position
	return nil
}

// ReadN reads the next count bytes and advances the cursor by count. It
// fails with ErrInvalidArgument if count isn't positive.
func (img *Image) ReadN(count int) ([]byte, error) {
	if count <= 0 {
		return nil, errors.ErrInvalidArgument.WithMessage("read count must be positive")
	}

	buffer := make([]byte, count)
	n, err := io.ReadFull(img.stream, buffer)
	img.position += int64(n)
	if err != nil {
		return nil, errors.ErrIOFailure.WrapError(err)
	}

	return buffer, nil
}

// ReadUint reads the next width bytes as a little-endian unsigned integer
// and advances the cursor. width must be 1, 2, or 4.
func (img *Image) ReadUint(width int) (uint32, error) {
	raw, err := img.ReadN(width)
	if err != nil {
		return 0, err
	}

	switch width {
	case 1:
		return uint32(raw[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(raw)), nil
	case 4:
		return binary.LittleEndian.Uint32(raw), nil
	default:
		return 0, errors.ErrInvalidArgument.WithMessage("width must be 1, 2, or 4")
	}
}

// WriteRaw writes value at the current cursor and advances it by len(value).
func (img *Image) WriteRaw(value []byte) error {
	n, err := img.stream.Write(value)
	img.position += int64(n)
	if err != nil {
		return errors.ErrIOFailure.WrapError(err)
	}

	return nil
}

// WriteUint writes value as width little-endian bytes at the current cursor
// and advances it by width. width must be 1, 2, or 4.
func (img *Image) WriteUint(value uint32, width int) error {
	buffer := make([]byte, width)

	switch width {
	case 1:
		buffer[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buffer, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buffer, value)
	default:
		return errors.ErrInvalidArgument.WithMessage("width must be 1, 2, or 4")
	}

	return img.WriteRaw(buffer)
}

// StepBack moves the cursor back count bytes. It fails with ErrOutOfBounds
// if that would put the cursor before the start of the image.
func (img *Image) StepBack(count int) error {
	if count <= 0 {
		return errors.ErrInvalidArgument.WithMessage("step-back count must be positive")
	}

	if int64(count) > img.position {
		return errors.ErrOutOfBounds.WithMessage("step-back would precede start of image")
	}

	return img.SeekAbsolute(img.position - int64(count))
}

// ReadAt reads length bytes starting at offset without disturbing the
// current cursor, then restores it. It's used by callers that need a
// one-off read, such as the indexer probing a cluster out of sequence.
func (img *Image) ReadAt(offset int64, length int) ([]byte, error) {
	saved := img.position

	if err := img.SeekAbsolute(offset); err != nil {
		return nil, err
	}

	data, err := img.ReadN(length)
	if restoreErr := img.SeekAbsolute(saved); restoreErr != nil && err == nil {
		return data, restoreErr
	}

	return data, err
}

// Close releases the underlying stream if it implements io.Closer.
func (img *Image) Close() error {
	if closer, ok := img.stream.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return errors.ErrIOFailure.WrapError(err)
		}
	}

	return nil
}
