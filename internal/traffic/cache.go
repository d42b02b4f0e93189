package traffic

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/traffic-score/internal/spatial"
)

const (
	cacheMagic   = "TRAFSC01"
	cacheVersion = 1
)

// cacheRecord is the gob payload between the magic header and the checksum
// trailer.
type cacheRecord struct {
	Version     int
	BuildID     uuid.UUID
	Fingerprint string
	Mode        Mode
	CreatedAt   time.Time
	Stats       Stats
	Locations   []spatial.Point
	Scores      []float64
	Index       []int32
}

// SaveCache writes m to path. The file is written under a temporary name in
// the same directory and renamed into place, so a reader sees either the old
// file or the complete new one.
func SaveCache(path string, m *Model) error {
	rec := cacheRecord{
		Version:     cacheVersion,
		BuildID:     m.BuildID,
		Fingerprint: m.Fingerprint,
		Mode:        m.Mode,
		CreatedAt:   m.CreatedAt,
		Stats:       m.Stats,
		Locations:   m.locations,
		Scores:      m.scores,
		Index:       m.index.Perm(),
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&rec); err != nil {
		return eris.Wrap(err, "cache: encode")
	}
	sum := sha256.Sum256(payload.Bytes())

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "cache: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	for _, chunk := range [][]byte{[]byte(cacheMagic), payload.Bytes(), sum[:]} {
		if _, err := tmp.Write(chunk); err != nil {
			_ = tmp.Close()
			return eris.Wrap(err, "cache: write")
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "cache: sync")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cache: close")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "cache: rename to %s", path)
	}
	return nil
}

// LoadCache reads a model written by SaveCache. A missing file yields
// ErrCacheNotFound; anything unreadable yields ErrCorruptCache.
func LoadCache(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrCacheNotFound, "cache: %s", path)
		}
		return nil, eris.Wrapf(err, "cache: read %s", path)
	}

	if len(data) < len(cacheMagic)+sha256.Size {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: truncated", path)
	}
	if string(data[:len(cacheMagic)]) != cacheMagic {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: bad header", path)
	}
	payload := data[len(cacheMagic) : len(data)-sha256.Size]
	want := data[len(data)-sha256.Size:]
	got := sha256.Sum256(payload)
	if !bytes.Equal(got[:], want) {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: checksum mismatch", path)
	}

	var rec cacheRecord
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: decode: %v", path, err)
	}
	if rec.Version != cacheVersion {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: unsupported version %d", path, rec.Version)
	}

	m, err := restoreModel(rec.Locations, rec.Scores, rec.Index)
	if err != nil {
		return nil, eris.Wrapf(ErrCorruptCache, "cache: %s: %v", path, err)
	}
	m.BuildID = rec.BuildID
	m.Fingerprint = rec.Fingerprint
	m.Mode = rec.Mode
	m.CreatedAt = rec.CreatedAt
	m.Stats = rec.Stats
	return m, nil
}
