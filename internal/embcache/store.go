// Package embcache is the content-addressed embedding cache that makes replay runs possible.
package embcache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/embedding"
	"github.com/hyperjump/kensa/internal/models"
)

// On-disk layout. All integers are little-endian.
//
//	header: "KENSAVEC" | version uint16 | flags uint16
//	record: magic uint32 | key [32]byte | modelLen uint16 | model | dim uint32 | dim x float32 | crc32 uint32
//
// The CRC (IEEE) covers every record byte before it.
const (
	fileMagic   = "KENSAVEC"
	fileVersion = uint16(1)
	headerSize  = len(fileMagic) + 4
	recordMagic = uint32(0x4352564B) // "KVRC"

	// KeySize is the length of a cache key in bytes.
	KeySize = sha256.Size

	maxModelLen = 512
	maxDim      = 1 << 16
)

// Key addresses one cached vector.
type Key [KeySize]byte

// KeyFor derives the key for model and text. Text is normalized first, so inputs that
// differ only in surrounding or repeated whitespace share a key.
func KeyFor(model, text string) Key {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(embedding.Normalize(text)))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// ParseKey decodes the hex form of a key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return k, fmt.Errorf("invalid cache key %q", s)
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

type entry struct {
	model  string
	vector []float32
}

// Store is an append-only vector log with an in-memory index rebuilt on open.
// A key is either fully committed to the file and the index, or absent.
type Store struct {
	path     string
	readOnly bool
	logger   *zap.Logger

	mu    sync.RWMutex
	f     *os.File
	size  int64
	index map[Key]entry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// OpenStore opens the log at path for appending, creating it if needed.
// Several stores, in one process or many, may append to the same log: each write
// happens under an exclusive file lock after reading what the others committed.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := newStore(path, false, opts)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector cache: %w", err)
	}
	if err := s.init(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	s.logger.Info("vector cache opened", zap.String("path", path), zap.Int("entries", len(s.index)))
	return s, nil
}

// init writes the header of a new log or loads an existing one, holding the file lock
// so a concurrent opener never sees a half-written header.
func (s *Store) init(f *os.File) error {
	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock vector cache: %w", err)
	}
	defer unlockFile(f)
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		if _, err := f.Write(encodeHeader()); err != nil {
			return fmt.Errorf("failed to write cache header: %w", err)
		}
		s.size = int64(headerSize)
		return nil
	}
	return s.load(f)
}

// OpenStoreReadOnly loads the log at path for lookups only. Put always fails.
// A missing file yields an empty store, so every replay lookup fails closed.
func OpenStoreReadOnly(path string, opts ...StoreOption) (*Store, error) {
	s := newStore(path, true, opts)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("vector cache missing, replay lookups will miss", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vector cache: %w", err)
	}
	defer f.Close()
	if err := s.load(f); err != nil {
		return nil, err
	}
	s.logger.Info("vector cache opened read-only", zap.String("path", path), zap.Int("entries", len(s.index)))
	return s, nil
}

func newStore(path string, readOnly bool, opts []StoreOption) *Store {
	s := &Store{
		path:     path,
		readOnly: readOnly,
		logger:   zap.NewNop(),
		index:    make(map[Key]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// load validates the header and every record before any entry becomes visible.
func (s *Store) load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	formatErr := func(off int64, reason string) error {
		return &models.FormatError{Path: s.path, Offset: off, Reason: reason}
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return formatErr(0, "truncated header")
	}
	if string(header[:len(fileMagic)]) != fileMagic {
		return formatErr(0, "bad signature")
	}
	if v := binary.LittleEndian.Uint16(header[len(fileMagic):]); v != fileVersion {
		return formatErr(int64(len(fileMagic)), fmt.Sprintf("unsupported version %d", v))
	}

	index := make(map[Key]entry)
	off, err := s.readRecords(br, int64(headerSize), index)
	if err != nil {
		return err
	}
	s.index = index
	s.size = off
	return nil
}

// readRecords adds every record from br, which starts at file offset off, to index and
// returns the offset after the last record. A key seen twice must carry the same vector.
func (s *Store) readRecords(br *bufio.Reader, off int64, index map[Key]entry) (int64, error) {
	for {
		start := off
		buf, key, e, err := readRecord(br)
		if err == io.EOF {
			return off, nil
		}
		if err != nil {
			return off, &models.FormatError{Path: s.path, Offset: start, Reason: err.Error()}
		}
		off += int64(len(buf))
		if prev, ok := index[key]; ok {
			if !sameEntry(prev, e) {
				return off, &models.CacheIntegrityError{Key: key.String(), Expected: describe(prev), Observed: describe(e)}
			}
			continue
		}
		index[key] = e
	}
}

// catchUp indexes records appended by other writers since this store last read the
// file. The caller holds s.mu and the file lock.
func (s *Store) catchUp() error {
	info, err := s.f.Stat()
	if err != nil {
		return err
	}
	end := info.Size()
	if end <= s.size {
		return nil
	}
	br := bufio.NewReaderSize(io.NewSectionReader(s.f, s.size, end-s.size), 64*1024)
	off, err := s.readRecords(br, s.size, s.index)
	if err != nil {
		return err
	}
	s.logger.Debug("vector cache caught up", zap.Int64("from", s.size), zap.Int64("to", off))
	s.size = off
	return nil
}

// Refresh picks up vectors committed to the log by other writers. It is a no-op on a
// read-only store.
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly || s.f == nil {
		return nil
	}
	if err := lockFile(s.f); err != nil {
		return fmt.Errorf("lock vector cache: %w", err)
	}
	defer unlockFile(s.f)
	return s.catchUp()
}

// readRecord returns io.EOF only at a clean record boundary.
func readRecord(br *bufio.Reader) ([]byte, Key, entry, error) {
	var key Key
	var buf bytes.Buffer
	read := func(n int) ([]byte, error) {
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, errors.New("truncated record")
		}
		buf.Write(b)
		return b, nil
	}

	head := make([]byte, 4)
	n, err := io.ReadFull(br, head)
	if n == 0 && err == io.EOF {
		return nil, key, entry{}, io.EOF
	}
	if err != nil {
		return nil, key, entry{}, errors.New("truncated record")
	}
	buf.Write(head)
	if binary.LittleEndian.Uint32(head) != recordMagic {
		return nil, key, entry{}, errors.New("bad record magic")
	}

	kb, err := read(KeySize)
	if err != nil {
		return nil, key, entry{}, err
	}
	copy(key[:], kb)

	lb, err := read(2)
	if err != nil {
		return nil, key, entry{}, err
	}
	modelLen := int(binary.LittleEndian.Uint16(lb))
	if modelLen == 0 || modelLen > maxModelLen {
		return nil, key, entry{}, fmt.Errorf("model length %d out of range", modelLen)
	}
	mb, err := read(modelLen)
	if err != nil {
		return nil, key, entry{}, err
	}

	db, err := read(4)
	if err != nil {
		return nil, key, entry{}, err
	}
	dim := int(binary.LittleEndian.Uint32(db))
	if dim == 0 || dim > maxDim {
		return nil, key, entry{}, fmt.Errorf("dimension %d out of range", dim)
	}
	vb, err := read(dim * 4)
	if err != nil {
		return nil, key, entry{}, err
	}

	want := crc32.ChecksumIEEE(buf.Bytes())
	cb := make([]byte, 4)
	if _, err := io.ReadFull(br, cb); err != nil {
		return nil, key, entry{}, errors.New("truncated record")
	}
	buf.Write(cb)
	if got := binary.LittleEndian.Uint32(cb); got != want {
		return nil, key, entry{}, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", got, want)
	}

	return buf.Bytes(), key, entry{model: string(mb), vector: bytesToFloat32Slice(vb)}, nil
}

// Get returns a copy of the vector stored under key.
func (s *Store) Get(key Key) (model string, vec []float32, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[key]
	if !ok {
		return "", nil, false
	}
	return e.model, append([]float32(nil), e.vector...), true
}

// Put commits vec under key. Writing the same vector again is a no-op; a different
// vector under an existing key is a CacheIntegrityError and the stored entry is kept.
func (s *Store) Put(key Key, model string, vec []float32) error {
	if s.readOnly {
		return models.ErrCacheReadOnly
	}
	if err := validateEntry(model, vec); err != nil {
		return err
	}
	e := entry{model: model, vector: append([]float32(nil), vec...)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("vector cache closed")
	}
	if err := lockFile(s.f); err != nil {
		return fmt.Errorf("lock vector cache: %w", err)
	}
	defer unlockFile(s.f)
	if err := s.catchUp(); err != nil {
		return err
	}
	if prev, ok := s.index[key]; ok {
		if sameEntry(prev, e) {
			return nil
		}
		err := &models.CacheIntegrityError{Key: key.String(), Expected: describe(prev), Observed: describe(e)}
		s.logger.Error("cache integrity violation",
			zap.String("key", err.Key),
			zap.String("expected", err.Expected),
			zap.String("observed", err.Observed))
		return err
	}

	rec := encodeRecord(key, e)
	if _, err := s.f.Write(rec); err != nil {
		// Drop any partial tail so the file stays a sequence of whole records.
		if terr := s.f.Truncate(s.size); terr != nil {
			s.logger.Error("failed to roll back partial cache write", zap.Error(terr))
		}
		return fmt.Errorf("write cache record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync cache: %w", err)
	}
	s.size += int64(len(rec))
	s.index[key] = e
	return nil
}

// Len returns the number of cached vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether Put is refused.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close closes the log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func validateEntry(model string, vec []float32) error {
	if model == "" || len(model) > maxModelLen {
		return fmt.Errorf("model id length %d out of range", len(model))
	}
	if len(vec) == 0 || len(vec) > maxDim {
		return fmt.Errorf("vector dimension %d out of range", len(vec))
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}

func encodeHeader() []byte {
	h := make([]byte, headerSize)
	copy(h, fileMagic)
	binary.LittleEndian.PutUint16(h[len(fileMagic):], fileVersion)
	return h
}

func encodeRecord(key Key, e entry) []byte {
	size := 4 + KeySize + 2 + len(e.model) + 4 + len(e.vector)*4 + 4
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, recordMagic)
	buf = append(buf, key[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.model)))
	buf = append(buf, e.model...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.vector)))
	buf = append(buf, float32SliceToBytes(e.vector)...)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// sameEntry compares bit patterns so that equal means byte-identical on disk.
func sameEntry(a, b entry) bool {
	if a.model != b.model || len(a.vector) != len(b.vector) {
		return false
	}
	for i := range a.vector {
		if math.Float32bits(a.vector[i]) != math.Float32bits(b.vector[i]) {
			return false
		}
	}
	return true
}

func describe(e entry) string {
	sum := sha256.Sum256(float32SliceToBytes(e.vector))
	return fmt.Sprintf("model=%s dim=%d sha256=%s", e.model, len(e.vector), hex.EncodeToString(sum[:6]))
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
