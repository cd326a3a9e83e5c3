package storage

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"strata/internal/generation"
	"strata/internal/logging"
)

// SuccessMarker is written last; readers and recovery logic treat its
// presence as proof of a complete generation write.
const SuccessMarker = "_SUCCESS"

const manifestName = "manifest.yml"

// Pool grants bounded execution slots for parallel shard writes. The engine
// resource satisfies this.
type Pool interface {
	Do(ctx context.Context, fn func() error) error
}

// Manifest describes one persisted generation.
type Manifest struct {
	GenerationID int64                            `yaml:"generation_id"`
	WindowStart  time.Time                        `yaml:"window_start"`
	WindowEnd    time.Time                        `yaml:"window_end"`
	Records      int64                            `yaml:"records"`
	Blocks       int                              `yaml:"blocks"`
	Shards       int                              `yaml:"shards"`
	Offsets      map[int32]generation.OffsetRange `yaml:"offsets,omitempty"`
}

// Writer persists finalized generations under {data-dir}/{generation-id}.
// Records are re-sharded by key hash into a fixed shard count, independent
// of source partitioning.
type Writer struct {
	dataDir string
	shards  int
	keyW    Writable
	msgW    Writable
	pool    Pool
}

func NewWriter(dataDir string, shards int, keyClass, msgClass string, pool Pool) (*Writer, error) {
	keyW, err := NewWritable(keyClass)
	if err != nil {
		return nil, err
	}
	msgW, err := NewWritable(msgClass)
	if err != nil {
		return nil, err
	}
	return &Writer{dataDir: dataDir, shards: shards, keyW: keyW, msgW: msgW, pool: pool}, nil
}

// Write re-shards and persists ds. Re-running the write for the same
// generation overwrites the same path. Any I/O error aborts the write and is
// the generation's failure; nothing is retried here.
func (w *Writer) Write(ctx context.Context, ds *generation.Dataset) (generation.WriteResult, error) {
	gen := ds.Generation
	dir := filepath.Join(w.dataDir, strconv.FormatInt(gen.ID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return generation.WriteResult{}, fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	// Drop any stale marker so a rewrite in progress is never read as
	// complete.
	if err := os.Remove(filepath.Join(dir, SuccessMarker)); err != nil && !os.IsNotExist(err) {
		return generation.WriteResult{}, fmt.Errorf("storage: clear marker: %w", err)
	}

	buckets := make([][]generation.Record, w.shards)
	for _, rec := range ds.Records() {
		s := w.shardOf(rec.Key)
		buckets[s] = append(buckets[s], rec)
	}

	var wg sync.WaitGroup
	errs := make(chan error, w.shards)
	for shard := 0; shard < w.shards; shard++ {
		shard := shard
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.pool.Do(ctx, func() error {
				return w.writeShard(dir, shard, buckets[shard])
			})
			if err != nil {
				errs <- fmt.Errorf("storage: shard %d: %w", shard, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return generation.WriteResult{}, err
	}

	m := Manifest{
		GenerationID: gen.ID,
		WindowStart:  gen.WindowStart,
		WindowEnd:    gen.WindowEnd,
		Records:      int64(ds.Len()),
		Blocks:       len(ds.Blocks()),
		Shards:       w.shards,
		Offsets:      gen.Offsets,
	}
	raw, err := yaml.Marshal(&m)
	if err != nil {
		return generation.WriteResult{}, fmt.Errorf("storage: manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), raw, 0o644); err != nil {
		return generation.WriteResult{}, fmt.Errorf("storage: manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SuccessMarker), nil, 0o644); err != nil {
		return generation.WriteResult{}, fmt.Errorf("storage: marker: %w", err)
	}

	logging.L().Debug("generation persisted", "id", gen.ID, "dir", dir, "records", ds.Len())
	return generation.WriteResult{Path: dir, ShardCount: w.shards, Records: int64(ds.Len())}, nil
}

func (w *Writer) shardOf(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(w.shards))
}

// writeShard writes the original untransformed key/message pairs, passed
// through the configured writable codecs, as length-prefixed frames.
func (w *Writer) writeShard(dir string, shard int, recs []generation.Record) error {
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("part-%05d", shard)))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, rec := range recs {
		if err := writeFrame(bw, w.keyW.Encode(rec.Key), w.msgW.Encode(rec.Message)); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

/*──────────────────────────── readers ────────────────────────────*/

// ReadPart reads every pair from one shard file.
func ReadPart(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var out []Pair
	for {
		p, err := readFrame(br)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

// ReadManifest loads a generation directory's manifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("storage: manifest: %w", err)
	}
	return m, nil
}

// Complete reports whether dir holds a finished generation write.
func Complete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SuccessMarker))
	return err == nil
}
