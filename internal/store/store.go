// Package store is the persistent tier: a single append-only file of checksummed key/value frames
// with an in-memory offset index rebuilt on open.
package store

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Borislavv/go-dam-cache/model"
	"github.com/rs/zerolog"
)

const ioBufferSize = 512 * 1024

var errReadOnly = errors.New("store is opened read-only")

// Record is a raw persisted pair as yielded by Records.
type Record struct {
	Key   []byte
	Value []byte
}

type position struct {
	offset int64
	size   int64
}

type Store struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	index    map[string]position
	end      int64 // next append offset
	live     int64 // bytes held by frames still referenced from index
	closed   bool
	readOnly bool
	compress bool
	sync     bool
	ratio    float64
	logger   zerolog.Logger
}

type Option func(*Store)

// WithReadOnly opens the file without write access. Mutations fail, the file is never truncated or compacted.
func WithReadOnly() Option { return func(s *Store) { s.readOnly = true } }

// WithSnappy compresses values written from now on. Existing frames are readable either way.
func WithSnappy(enabled bool) Option { return func(s *Store) { s.compress = enabled } }

// WithSyncWrites fsyncs after every mutation.
func WithSyncWrites(enabled bool) Option { return func(s *Store) { s.sync = enabled } }

// WithCompactionRatio sets the garbage share at which Close rewrites the file. Zero disables it.
func WithCompactionRatio(ratio float64) Option { return func(s *Store) { s.ratio = ratio } }

func WithLogger(logger zerolog.Logger) Option { return func(s *Store) { s.logger = logger } }

// Open opens or creates the store file at path and replays it into the offset index.
// A torn tail is cut off (writable mode) or ignored (read-only mode); complete frames failing their checksum are skipped.
// Any error satisfies model.IsStoreUnavailable.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		index:  make(map[string]position),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	start := time.Now()
	if err := s.open(); err != nil {
		if s.file != nil {
			_ = s.file.Close()
		}
		return nil, model.NewErrStoreUnavailable(path, err)
	}

	s.logger.Debug().
		Str("path", path).
		Int("records", len(s.index)).
		Int64("bytes", s.end).
		Bool("read_only", s.readOnly).
		Str("elapsed", time.Since(start).String()).
		Msg("[store] opened")

	return s, nil
}

func (s *Store) open() (err error) {
	if s.readOnly {
		if s.file, err = os.Open(s.path); err != nil {
			return err
		}
	} else {
		if err = os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		if s.file, err = os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
			return err
		}
	}

	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", s.path)
	}

	if info.Size() == 0 {
		if s.readOnly {
			s.end = 0
			return nil
		}
		if _, err = s.file.WriteAt(fileHeader(), 0); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		s.end = headerSize
		return nil
	}

	header := make([]byte, headerSize)
	if _, err = s.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err = checkFileHeader(header); err != nil {
		return err
	}
	return s.replay(info.Size())
}

// replay scans frames from the header on. A complete frame that fails its checksum is skipped and
// left as garbage for the next compaction; replay stops at the first incomplete frame.
func (s *Store) replay(size int64) error {
	br := bufio.NewReaderSize(io.NewSectionReader(s.file, headerSize, size-headerSize), ioBufferSize)

	var (
		offset    int64 = headerSize
		hdrBuf    [frameHeaderSize]byte
		body      []byte
		reason    string
		corrupted int
		lost      int64
	)
	for {
		if _, err := io.ReadFull(br, hdrBuf[:]); err == io.EOF {
			break
		} else if err != nil {
			reason = "truncated frame header"
			break
		}
		h, err := parseFrameHeader(hdrBuf[:])
		if err != nil {
			reason = err.Error()
			break
		}
		n := int(h.keyLen) + int(h.valLen)
		if cap(body) < n {
			body = make([]byte, n)
		}
		body = body[:n]
		if _, err = io.ReadFull(br, body); err != nil {
			reason = "truncated frame body"
			break
		}
		key, value := body[:h.keyLen], body[h.keyLen:]
		if checksum(key, value) != h.sum {
			corrupted++
			lost += h.size()
			offset += h.size()
			continue
		}

		s.apply(string(key), h.flags, position{offset: offset, size: h.size()})
		offset += h.size()
	}
	s.end = offset

	if corrupted > 0 {
		s.logger.Warn().
			Str("path", s.path).
			Int("frames", corrupted).
			Int64("bytes", lost).
			Msg("[store] frames with checksum mismatch skipped")
	}

	if offset == size {
		return nil
	}

	dropped := size - offset
	if s.readOnly {
		s.logger.Warn().
			Str("path", s.path).
			Int64("offset", offset).
			Int64("ignored_bytes", dropped).
			Str("reason", reason).
			Msg("[store] unreadable tail ignored")
		return nil
	}
	if err := s.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	s.logger.Warn().
		Str("path", s.path).
		Int64("offset", offset).
		Int64("dropped_bytes", dropped).
		Str("reason", reason).
		Msg("[store] torn tail truncated")
	return nil
}

// apply folds one frame into the index. Caller holds the write lock (or owns s exclusively).
func (s *Store) apply(key string, flags byte, pos position) {
	if prev, ok := s.index[key]; ok {
		s.live -= prev.size
	}
	if flags&flagTombstone != 0 {
		delete(s.index, key)
		return
	}
	s.index[key] = pos
	s.live += pos.size
}

func (s *Store) Path() string { return s.path }

// Get returns the value stored under key, or an error satisfying model.IsNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, model.NewErrStoreUnavailable(s.path, os.ErrClosed)
	}
	pos, ok := s.index[string(key)]
	if !ok {
		return nil, model.ErrNotFound
	}
	_, value, err := s.readAt(pos)
	return value, err
}

// readAt returns a StoreCorrupted error only when the frame was read and failed verification.
func (s *Store) readAt(pos position) (key, value []byte, err error) {
	buf := make([]byte, pos.size)
	if _, err = s.file.ReadAt(buf, pos.offset); err != nil {
		return nil, nil, fmt.Errorf("read frame at %d: %w", pos.offset, err)
	}
	flags, key, value, err := decodeFrame(buf)
	if err != nil {
		return nil, nil, model.NewErrStoreCorrupted(s.path, pos.offset, err.Error())
	}
	if flags&flagTombstone != 0 {
		return nil, nil, model.NewErrStoreCorrupted(s.path, pos.offset, "index points at a tombstone")
	}
	return key, value, nil
}

// Set appends a new frame for key. The previous frame, if any, becomes garbage.
func (s *Store) Set(key, value []byte) error {
	if len(key) == 0 || len(key) > maxKeyLen {
		return fmt.Errorf("store: key length %d out of range", len(key))
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("store: value length %d out of range", len(value))
	}
	frame := encodeFrame(0, key, value, s.compress)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	pos, err := s.append(frame)
	if err != nil {
		return err
	}
	s.apply(string(key), 0, pos)
	return s.syncIfNeeded()
}

// Remove appends a tombstone for key. Removing an absent key is a no-op.
func (s *Store) Remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	if _, ok := s.index[string(key)]; !ok {
		return nil
	}
	frame := encodeFrame(flagTombstone, key, nil, false)
	pos, err := s.append(frame)
	if err != nil {
		return err
	}
	s.apply(string(key), flagTombstone, pos)
	return s.syncIfNeeded()
}

// Clear drops every record and shrinks the file back to its header.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	if err := s.file.Truncate(headerSize); err != nil {
		return model.NewErrStoreUnavailable(s.path, err)
	}
	s.index = make(map[string]position)
	s.end = headerSize
	s.live = 0
	return s.syncIfNeeded()
}

func (s *Store) writable() error {
	if s.closed {
		return model.NewErrStoreUnavailable(s.path, os.ErrClosed)
	}
	if s.readOnly {
		return model.NewErrStoreUnavailable(s.path, errReadOnly)
	}
	return nil
}

func (s *Store) append(frame []byte) (position, error) {
	pos := position{offset: s.end, size: int64(len(frame))}
	if _, err := s.file.WriteAt(frame, pos.offset); err != nil {
		// a partial write is cut off so the next append starts on a frame boundary
		_ = s.file.Truncate(s.end)
		return position{}, model.NewErrStoreUnavailable(s.path, err)
	}
	s.end += pos.size
	return pos, nil
}

func (s *Store) syncIfNeeded() error {
	if !s.sync {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return model.NewErrStoreUnavailable(s.path, err)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Size is the current file size in bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.end
}

// Garbage is the number of bytes held by overwritten, removed or tombstone frames.
func (s *Store) Garbage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.garbage()
}

func (s *Store) garbage() int64 {
	if s.end <= headerSize {
		return 0
	}
	return s.end - headerSize - s.live
}

// NeedsCompaction reports whether dead bytes reached the configured share of the file.
func (s *Store) NeedsCompaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsCompaction()
}

func (s *Store) needsCompaction() bool {
	if s.closed || s.readOnly || s.ratio <= 0 || s.end <= headerSize {
		return false
	}
	g := s.garbage()
	return g > 0 && float64(g)/float64(s.end-headerSize) >= s.ratio
}

// Records yields every live record in file order, oldest write first.
// Records are read lazily, one at a time; a record removed or overwritten after iteration
// started is skipped. The lock is not held while yield runs.
func (s *Store) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		type entry struct {
			key string
			pos position
		}

		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			yield(Record{}, model.NewErrStoreUnavailable(s.path, os.ErrClosed))
			return
		}
		entries := make([]entry, 0, len(s.index))
		for k, p := range s.index {
			entries = append(entries, entry{key: k, pos: p})
		}
		s.mu.RUnlock()

		slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.pos.offset, b.pos.offset) })

		for _, e := range entries {
			s.mu.RLock()
			if cur, ok := s.index[e.key]; s.closed || !ok || cur != e.pos {
				s.mu.RUnlock()
				continue
			}
			_, value, err := s.readAt(e.pos)
			s.mu.RUnlock()

			if !yield(Record{Key: []byte(e.key), Value: value}, err) {
				return
			}
		}
	}
}

// Compact rewrites the file with live records only, via a temp file and rename.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	return s.compact()
}

func (s *Store) compact() error {
	start := time.Now()
	before := s.end

	type entry struct {
		key string
		pos position
	}
	entries := make([]entry, 0, len(s.index))
	for k, p := range s.index {
		entries = append(entries, entry{key: k, pos: p})
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.pos.offset, b.pos.offset) })

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return model.NewErrStoreUnavailable(s.path, err)
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return model.NewErrStoreUnavailable(s.path, err)
	}

	bw := bufio.NewWriterSize(f, ioBufferSize)
	if _, err = bw.Write(fileHeader()); err != nil {
		return fail(err)
	}
	index := make(map[string]position, len(entries))
	offset := int64(headerSize)
	buf := make([]byte, 0, 4096)
	for _, e := range entries {
		buf = slices.Grow(buf[:0], int(e.pos.size))[:e.pos.size]
		if _, err = s.file.ReadAt(buf, e.pos.offset); err != nil {
			return fail(fmt.Errorf("read frame at %d: %w", e.pos.offset, err))
		}
		if _, err = bw.Write(buf); err != nil {
			return fail(err)
		}
		index[e.key] = position{offset: offset, size: e.pos.size}
		offset += e.pos.size
	}
	if err = bw.Flush(); err != nil {
		return fail(err)
	}
	if err = f.Sync(); err != nil {
		return fail(err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmp)
		return model.NewErrStoreUnavailable(s.path, err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return model.NewErrStoreUnavailable(s.path, err)
	}

	reopened, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		s.closed = true
		_ = s.file.Close()
		return model.NewErrStoreUnavailable(s.path, err)
	}
	_ = s.file.Close()
	s.file = reopened
	s.index = index
	s.end = offset
	s.live = offset - headerSize

	s.logger.Info().
		Str("path", s.path).
		Int("records", len(index)).
		Int64("bytes_before", before).
		Int64("bytes_after", offset).
		Str("elapsed", time.Since(start).String()).
		Msg("[store] compaction finished")
	return nil
}

// Close compacts the file when enough garbage accumulated and releases it. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.needsCompaction() {
		if err := s.compact(); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("[store] compaction on close failed")
		}
	}

	s.closed = true
	if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return model.NewErrStoreUnavailable(s.path, err)
	}
	return nil
}
