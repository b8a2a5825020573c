package recorder

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// ErrStopScan may be returned by a scan callback to end the scan early without error.
var ErrStopScan = errors.New("recorder: stop scan")

const readerBufferSize = 64 * 1024

// ScanOptions controls partition decoding.
type ScanOptions struct {
	// OnParseError receives every malformed line before it is skipped.
	OnParseError func(*exception.QueryParseError)
}

// Reader decodes partition lines sequentially.
type Reader struct {
	r    *bufio.Reader
	path string
	line int
	opts ScanOptions
}

// NewReader wraps an io.Reader with line decoding. path is only used in errors.
func NewReader(r io.Reader, path string, opts ScanOptions) *Reader {
	return &Reader{
		r:    bufio.NewReaderSize(r, readerBufferSize),
		path: path,
		opts: opts,
	}
}

// Next returns the next well-formed envelope. Malformed lines are reported
// to OnParseError and skipped. It returns io.EOF at the end of input.
func (r *Reader) Next() (schema.Envelope, error) {
	for {
		raw, err := r.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return schema.Envelope{}, err
		}
		if err != nil && err != io.EOF {
			return schema.Envelope{}, err
		}
		r.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		env, decodeErr := codec.DecodeLine(raw)
		if decodeErr != nil {
			r.report(decodeErr)
			continue
		}
		return env, nil
	}
}

func (r *Reader) report(err error) {
	perr := &exception.QueryParseError{Path: r.path, Line: r.line, Err: err}
	var inner *exception.QueryParseError
	if errors.As(err, &inner) {
		perr.Err = inner.Err
	}
	if r.opts.OnParseError != nil {
		r.opts.OnParseError(perr)
		return
	}
	logs.Warnf("skip malformed audit line, err: %+v", perr)
}

// ScanFile calls fn for every well-formed envelope of one partition in line
// order. A missing file contributes nothing.
func ScanFile(ctx context.Context, path string, opts ScanOptions, fn func(schema.Envelope) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	reader := NewReader(file, path, opts)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}

// ScanPartitions scans each partition in order. It stops cleanly when fn
// returns ErrStopScan.
func ScanPartitions(ctx context.Context, parts []Partition, opts ScanOptions, fn func(schema.Envelope) error) error {
	for _, p := range parts {
		if err := ScanFile(ctx, p.Path, opts, fn); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}
