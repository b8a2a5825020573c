package recorder

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// Writer appends envelopes to daily partition files from a bounded queue.
// Append never touches the disk; a single goroutine owns every file handle.
type Writer struct {
	cfg     Config
	metrics *obs.Metrics

	ch      chan writeRequest
	flushCh chan chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	failures atomic.Uint64
}

type writeRequest struct {
	day      time.Time
	line     []byte
	enqueued time.Time
}

type partitionFile struct {
	path     string
	file     *os.File
	buf      *bufio.Writer
	lastUsed uint64
}

// NewWriter creates a writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &exception.StorageWriteError{Path: cfg.Dir, Err: err}
	}
	return &Writer{
		cfg:     cfg,
		ch:      make(chan writeRequest, cfg.QueueSize),
		flushCh: make(chan chan struct{}),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// WithMetrics attaches counters for drops, failures and throughput.
func (w *Writer) WithMetrics(m *obs.Metrics) *Writer {
	w.metrics = m
	return w
}

// Config returns the effective configuration.
func (w *Writer) Config() Config {
	return w.cfg
}

// Failures returns how many partition writes have failed since start.
func (w *Writer) Failures() uint64 {
	return w.failures.Load()
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return exception.ErrClosed
	}
	if w.started {
		return exception.ErrAlreadyStarted
	}
	w.started = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.stopped)
		w.run(ctx)
	}()
	return nil
}

// Close stops accepting records, drains the queue and closes every partition.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return nil
	}
	w.closed = true
	started := w.started
	close(w.quit)
	w.mu.Unlock()

	if started {
		w.wg.Wait()
	}
	return nil
}

// Append encodes env and enqueues it according to the overflow policy.
func (w *Writer) Append(env schema.Envelope) error {
	line, err := codec.EncodeLine(env)
	if err != nil {
		return err
	}
	req := writeRequest{day: Day(env.Timestamp()), line: line, enqueued: time.Now()}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed || w.isStopped() {
		w.metrics.IncQueueClosed()
		return exception.ErrClosed
	}
	if !w.started {
		return exception.ErrNotStarted
	}

	switch w.cfg.Overflow {
	case OverflowBlock:
		select {
		case w.ch <- req:
			return nil
		case <-w.stopped:
			w.metrics.IncQueueClosed()
			return exception.ErrClosed
		}
	case OverflowDropNewest:
		select {
		case w.ch <- req:
			return nil
		default:
			w.metrics.IncQueueDrop()
			return exception.ErrQueueFull
		}
	default:
		for {
			select {
			case w.ch <- req:
				return nil
			default:
			}
			select {
			case <-w.ch:
				w.metrics.IncQueueDrop()
			default:
			}
		}
	}
}

// Flush returns once every record enqueued before the call has been handed
// to the operating system. After Close it returns immediately.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if !started {
		return exception.ErrNotStarted
	}

	begin := time.Now()
	done := make(chan struct{})
	select {
	case w.flushCh <- done:
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		w.metrics.ObserveFlush(time.Since(begin))
		return nil
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) isStopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		files       = make(map[time.Time]*partitionFile, w.cfg.MaxOpenFiles)
		tick        uint64
		flushC      <-chan time.Time
		syncC       <-chan time.Time
		flushTicker *time.Ticker
		syncTicker  *time.Ticker
	)

	if w.cfg.FlushInterval > 0 {
		flushTicker = time.NewTicker(w.cfg.FlushInterval)
		flushC = flushTicker.C
	}
	if w.cfg.SyncInterval > 0 {
		syncTicker = time.NewTicker(w.cfg.SyncInterval)
		syncC = syncTicker.C
	}

	defer func() {
		if flushTicker != nil {
			flushTicker.Stop()
		}
		if syncTicker != nil {
			syncTicker.Stop()
		}
		for day, pf := range files {
			w.closeFile(pf)
			delete(files, day)
		}
		logs.Infof("audit writer stopped, dir: %s", w.cfg.Dir)
	}()

	write := func(req writeRequest) {
		tick++
		w.writeRecord(files, tick, req)
	}

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(write)
			return
		case <-w.quit:
			w.drainNonBlocking(write)
			return
		case req := <-w.ch:
			write(req)
		case done := <-w.flushCh:
			w.drainNonBlocking(write)
			w.flushAll(files)
			close(done)
		case <-flushC:
			w.flushAll(files)
		case <-syncC:
			w.syncAll(files)
		}
	}
}

func (w *Writer) drainNonBlocking(write func(writeRequest)) {
	for {
		select {
		case req := <-w.ch:
			write(req)
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(files map[time.Time]*partitionFile, tick uint64, req writeRequest) {
	pf, ok := files[req.day]
	if !ok {
		opened, err := w.openFile(req.day)
		if err != nil {
			w.fail(&exception.StorageWriteError{Path: w.path(req.day), Err: err})
			return
		}
		if len(files) >= w.cfg.MaxOpenFiles {
			w.evictLeastRecent(files)
		}
		files[req.day] = opened
		pf = opened
	}
	pf.lastUsed = tick

	if _, err := pf.buf.Write(req.line); err != nil {
		w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
		_ = pf.file.Close()
		delete(files, req.day)
		return
	}
	w.metrics.ObserveWrite(len(req.line), time.Since(req.enqueued))
}

func (w *Writer) evictLeastRecent(files map[time.Time]*partitionFile) {
	var (
		oldest time.Time
		min    uint64
		found  bool
	)
	for day, pf := range files {
		if !found || pf.lastUsed < min {
			oldest, min, found = day, pf.lastUsed, true
		}
	}
	if found {
		w.closeFile(files[oldest])
		delete(files, oldest)
	}
}

func (w *Writer) flushAll(files map[time.Time]*partitionFile) {
	for day, pf := range files {
		if err := pf.buf.Flush(); err != nil {
			w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
			_ = pf.file.Close()
			delete(files, day)
		}
	}
}

func (w *Writer) syncAll(files map[time.Time]*partitionFile) {
	for day, pf := range files {
		if err := pf.buf.Flush(); err == nil {
			err = pf.file.Sync()
			if err == nil {
				continue
			}
			w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
		} else {
			w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
		}
		_ = pf.file.Close()
		delete(files, day)
	}
}

func (w *Writer) closeFile(pf *partitionFile) {
	if pf == nil {
		return
	}
	if err := pf.buf.Flush(); err != nil {
		w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
		_ = pf.file.Close()
		return
	}
	if err := pf.file.Sync(); err != nil {
		w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
	}
	if err := pf.file.Close(); err != nil {
		w.fail(&exception.StorageWriteError{Path: pf.path, Err: err})
	}
}

func (w *Writer) openFile(day time.Time) (*partitionFile, error) {
	path := w.path(day)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open partition")
	}
	return &partitionFile{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, w.cfg.BufferSize),
	}, nil
}

func (w *Writer) path(day time.Time) string {
	return filepath.Join(w.cfg.Dir, PartitionName(w.cfg.FilePrefix, day))
}

func (w *Writer) fail(err error) {
	w.failures.Add(1)
	w.metrics.IncWriteError()
	logs.Errorf("audit write failed, err: %+v", err)
}
