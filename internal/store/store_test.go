package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Borislavv/go-dam-cache/model"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "dam_cache_db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func collect(t *testing.T, s *Store) (keys []string, values []string) {
	t.Helper()
	for rec, err := range s.Records() {
		require.NoError(t, err)
		keys = append(keys, string(rec.Key))
		values = append(values, string(rec.Value))
	}
	return keys, values
}

// TestStore_SetGetRemove covers the basic mapping semantics.
func TestStore_SetGetRemove(t *testing.T) {
	s, _ := openTemp(t)

	_, err := s.Get([]byte("k1"))
	require.True(t, model.IsNotFound(err))

	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Set([]byte("k2"), []byte("v2")))
	require.NoError(t, s.Set([]byte("k1"), []byte("v1b")))

	v, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, "v1b", string(v))
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Remove([]byte("k1")))
	require.NoError(t, s.Remove([]byte("missing")))
	_, err = s.Get([]byte("k1"))
	require.True(t, model.IsNotFound(err))
	require.Equal(t, 1, s.Len())
}

// TestStore_ReopenReplaysLastWrite rebuilds the index from the file, honoring overwrites and tombstones.
func TestStore_ReopenReplaysLastWrite(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	require.NoError(t, s.Set([]byte("b"), []byte("2")))
	require.NoError(t, s.Set([]byte("a"), []byte("3")))
	require.NoError(t, s.Set([]byte("c"), []byte("4")))
	require.NoError(t, s.Remove([]byte("b")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	v, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "3", string(v))
	_, err = reopened.Get([]byte("b"))
	require.True(t, model.IsNotFound(err))
}

// TestStore_RecordsInFileOrder yields live records by write position, latest overwrite last.
func TestStore_RecordsInFileOrder(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Set([]byte("t1"), []byte("x")))
	require.NoError(t, s.Set([]byte("a1"), []byte("y")))
	require.NoError(t, s.Set([]byte("t2"), []byte("z")))
	require.NoError(t, s.Set([]byte("t1"), []byte("x2")))
	require.NoError(t, s.Remove([]byte("a1")))

	keys, values := collect(t, s)
	require.Equal(t, []string{"t2", "t1"}, keys)
	require.Equal(t, []string{"z", "x2"}, values)
}

// TestStore_RecordsStopsEarly honors a consumer that breaks out of the loop.
func TestStore_RecordsStopsEarly(t *testing.T) {
	s, _ := openTemp(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set([]byte(k), []byte(k)))
	}

	n := 0
	for range s.Records() {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

// TestStore_TornTailIsTruncated drops a half-written trailing frame and keeps everything before it.
func TestStore_TornTailIsTruncated(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Set([]byte("k2"), []byte("v2")))
	good := s.Size()
	require.NoError(t, s.Close())

	partial := encodeFrame(0, []byte("k3"), []byte("a rather long value"), false)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(partial[:len(partial)-5])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	require.Equal(t, good, reopened.Size())
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, good, info.Size())

	require.NoError(t, reopened.Set([]byte("k3"), []byte("v3")))
	v, err := reopened.Get([]byte("k3"))
	require.NoError(t, err)
	require.Equal(t, "v3", string(v))
}

// TestStore_ChecksumMismatchSkipsFrame drops a corrupted trailing frame without cutting the file.
func TestStore_ChecksumMismatchSkipsFrame(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Set([]byte("k2"), []byte("v2")))
	size := s.Size()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 1, reopened.Len())
	require.Equal(t, size, reopened.Size())
	_, err = reopened.Get([]byte("k2"))
	require.True(t, model.IsNotFound(err))
}

// TestStore_MidFileCorruptionKeepsLaterRecords skips one damaged frame and replays every intact one after it.
func TestStore_MidFileCorruptionKeepsLaterRecords(t *testing.T) {
	s, path := openTemp(t)
	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		require.NoError(t, s.Set([]byte(k), []byte("value-"+k)))
	}
	size := s.Size()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize+frameHeaderSize+len("k1")] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened, err := Open(path)
	require.NoError(t, err)

	require.Equal(t, 3, reopened.Len())
	require.Equal(t, size, reopened.Size())
	require.Positive(t, reopened.Garbage())
	_, err = reopened.Get([]byte("k1"))
	require.True(t, model.IsNotFound(err))
	for _, k := range []string{"k2", "k3", "k4"} {
		v, err := reopened.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, "value-"+k, string(v))
	}

	require.NoError(t, reopened.Set([]byte("k5"), []byte("value-k5")))
	require.NoError(t, reopened.Compact())
	require.Zero(t, reopened.Garbage())
	require.NoError(t, reopened.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	keys, _ := collect(t, again)
	require.Equal(t, []string{"k2", "k3", "k4", "k5"}, keys)
}

// TestStore_ReadOnly never writes and leaves a torn tail in place.
func TestStore_ReadOnly(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ro, err := Open(path, WithReadOnly())
	require.NoError(t, err)

	v, err := ro.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	require.True(t, model.IsStoreUnavailable(ro.Set([]byte("k2"), []byte("v2"))))
	require.True(t, model.IsStoreUnavailable(ro.Remove([]byte("k1"))))
	require.True(t, model.IsStoreUnavailable(ro.Clear()))
	require.NoError(t, ro.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(before, after))
}

// TestStore_ReadOnlyMissingFile is unavailable rather than creating the file.
func TestStore_ReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")
	_, err := Open(path, WithReadOnly())
	require.True(t, model.IsStoreUnavailable(err))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

// TestStore_ForeignFileRejected refuses to replay or clobber a file it did not write.
func TestStore_ForeignFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dam_cache_db")
	require.NoError(t, os.WriteFile(path, []byte("SQLite format 3\x00"), 0o644))

	_, err := Open(path)
	require.True(t, model.IsStoreUnavailable(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "SQLite format 3\x00", string(data))
}

// TestStore_DirectoryPathUnavailable fails to open a directory as the store file.
func TestStore_DirectoryPathUnavailable(t *testing.T) {
	_, err := Open(t.TempDir())
	require.True(t, model.IsStoreUnavailable(err))
}

// TestStore_SnappyFramesReadableWithoutSnappy decodes compressed frames regardless of the current write mode.
func TestStore_SnappyFramesReadableWithoutSnappy(t *testing.T) {
	s, path := openTemp(t, WithSnappy(true))
	value := bytes.Repeat([]byte("component "), 200)
	require.NoError(t, s.Set([]byte("k"), value))
	require.Less(t, s.Size(), int64(len(value)))
	require.NoError(t, s.Close())

	plain, err := Open(path)
	require.NoError(t, err)
	defer plain.Close()

	v, err := plain.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, value, v)
}

// TestStore_CompactOnClose rewrites the file once garbage crosses the ratio.
func TestStore_CompactOnClose(t *testing.T) {
	s, path := openTemp(t, WithCompactionRatio(0.5))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set([]byte("hot"), bytes.Repeat([]byte{byte(i)}, 64)))
	}
	require.NoError(t, s.Set([]byte("cold"), []byte("c")))
	require.Greater(t, s.Garbage(), int64(0))
	before := s.Size()
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Less(t, info.Size(), before)

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, int64(0), reopened.Garbage())
	v, err := reopened.Get([]byte("hot"))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{9}, 64), v)

	keys, _ := collect(t, reopened)
	require.Equal(t, []string{"hot", "cold"}, keys)
}

// TestStore_Clear empties the store and shrinks the file to its header.
func TestStore_Clear(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Clear())
	require.Equal(t, 0, s.Len())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(headerSize), info.Size())

	require.NoError(t, s.Set([]byte("k2"), []byte("v2")))
	keys, _ := collect(t, s)
	require.Equal(t, []string{"k2"}, keys)
}

// TestStore_ClosedIsUnavailable rejects every operation after Close.
func TestStore_ClosedIsUnavailable(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get([]byte("k"))
	require.True(t, model.IsStoreUnavailable(err))
	require.True(t, model.IsStoreUnavailable(s.Set([]byte("k"), []byte("v"))))
}
