package recorder

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const tailChunkSize = readerBufferSize

// LastSeq returns the highest sequence number recorded under dir. Each
// partition is appended in seq order, so only the last well-formed line of
// every partition is read. Partitions are split by event day, not by write
// time, so all of them are checked.
func LastSeq(ctx context.Context, dir, prefix string) (uint64, error) {
	parts, err := ListPartitions(dir, prefix)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		seq, err := partitionLastSeq(ctx, p.Path)
		if err != nil {
			return 0, errors.Wrapf(err, "read tail of %s", p.Path)
		}
		last = max(last, seq)
	}
	return last, nil
}

func partitionLastSeq(ctx context.Context, path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	offset := max(0, size-tailChunkSize)
	chunk := make([]byte, size-offset)
	if _, err := file.ReadAt(chunk, offset); err != nil && err != io.EOF {
		return 0, err
	}
	if offset > 0 {
		// first line of the chunk may be cut
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			chunk = chunk[i+1:]
		} else {
			chunk = nil
		}
	}
	if seq, ok := lastSeqIn(chunk); ok || offset == 0 {
		return seq, nil
	}

	// the tail is all garbage; fall back to a full scan
	var last uint64
	err = ScanFile(ctx, path, ScanOptions{OnParseError: func(*exception.QueryParseError) {}}, func(env schema.Envelope) error {
		last = max(last, env.Seq())
		return nil
	})
	return last, err
}

// lastSeqIn walks lines backwards and returns the seq of the last
// well-formed stamped one.
func lastSeqIn(chunk []byte) (uint64, bool) {
	for len(chunk) > 0 {
		i := bytes.LastIndexByte(chunk, '\n')
		line := bytes.TrimSpace(chunk[i+1:])
		if i < 0 {
			chunk = nil
		} else {
			chunk = chunk[:i]
		}
		if len(line) == 0 {
			continue
		}
		env, err := codec.DecodeLine(line)
		if err != nil || env.Seq() == 0 {
			continue
		}
		return env.Seq(), true
	}
	return 0, false
}
