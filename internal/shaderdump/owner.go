// Package shaderdump owns a loaded shader dump and serves program
// bytecode from it, keeping recently decompressed groups in an LRU cache.
package shaderdump

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/samcharles93/shaderdump/internal/groupcache"
	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

// DefaultCacheCapacity is the number of decompressed groups kept per owner.
const DefaultCacheCapacity = 16

// generation counts successful loads across every owner in the process.
var generation atomic.Uint64

// CurrentGeneration returns the number of successful loads so far.
func CurrentGeneration() uint64 {
	return generation.Load()
}

type Options struct {
	// CacheCapacity is the number of decompressed groups to keep.
	// Zero selects DefaultCacheCapacity; a negative value disables caching.
	CacheCapacity int

	// MaxCachedGroupSize bounds the decompressed size of a cacheable group
	// in bytes. Larger groups are decompressed for each request. Zero means
	// no limit.
	MaxCachedGroupSize int

	// StrictIDs makes GetCode panic on ids the dump does not contain.
	StrictIDs bool

	Logger logger.Logger
}

func (o Options) capacity() int {
	switch {
	case o.CacheCapacity == 0:
		return DefaultCacheCapacity
	case o.CacheCapacity < 0:
		return 0
	default:
		return o.CacheCapacity
	}
}

// Owner holds one dump: the raw buffer, the parsed views over it, the
// derived lookup tables and the decompressed-group cache.
//
// The buffer and views are immutable between a successful load and Clear,
// so GetCode may run from any number of goroutines. Load, LoadData, Open,
// InitAfterLoad and Clear must not run concurrently with GetCode.
type Owner struct {
	opts Options
	log  logger.Logger

	data    []byte
	mmapped bool
	mapped  *bindump.Mapped

	varIntervalIdx []int16
	intervalNorm   []uint8

	mu    sync.Mutex
	cache *groupcache.LRU[uint16, *bindump.Group]

	loadID     uuid.UUID
	generation uint64
}

// New returns an empty owner.
func New(opts Options) *Owner {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Owner{opts: opts, log: log}
}

// Load reads a dump from r into an owned buffer. It reads exactly size
// bytes, or everything up to EOF when fullFileLoad is set. On failure the
// owner is left empty.
func (o *Owner) Load(r io.Reader, size int, fullFileLoad bool) error {
	o.Clear()

	var data []byte
	if fullFileLoad {
		buf, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read dump: %w", err)
		}
		data = buf
	} else {
		if size <= 0 {
			return fmt.Errorf("%w: invalid size %d", bindump.ErrCorruptFile, size)
		}
		data = make([]byte, size)
		n, err := io.ReadFull(r, data)
		if err != nil {
			return fmt.Errorf("%w: %d of %d bytes: %v", ErrShortRead, n, size, err)
		}
	}
	return o.activate(data, false)
}

// LoadData loads a dump from a resident buffer. The buffer is copied, so
// the caller may reuse it.
func (o *Owner) LoadData(data []byte) error {
	o.Clear()
	if len(data) == 0 {
		return fmt.Errorf("%w: empty buffer", bindump.ErrCorruptFile)
	}
	return o.activate(append([]byte(nil), data...), false)
}

// Open maps the dump at path read-only, falling back to reading it when
// mmap is unavailable. Clear releases the mapping.
func (o *Owner) Open(path string) error {
	o.Clear()
	data, mapped, err := mapFile(path)
	if err != nil {
		return err
	}
	if err := o.activate(data, mapped); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	o.log.Debug("dump mapped", "path", path, "mmap", mapped)
	return nil
}

func (o *Owner) activate(data []byte, mapped bool) error {
	o.data = data
	o.mmapped = mapped
	if err := o.InitAfterLoad(); err != nil {
		return err
	}
	o.loadID = uuid.New()
	o.generation = generation.Add(1)
	o.log.Info("dump loaded",
		"version", o.mapped.Version(),
		"size", len(o.data),
		"load_id", o.loadID,
		"generation", o.generation,
	)
	return nil
}

// InitAfterLoad rebuilds the parsed views, the derived lookup tables and an
// empty cache from the resident buffer. It can be called again at any time
// the buffer is resident; on failure the owner is left empty.
func (o *Owner) InitAfterLoad() error {
	if len(o.data) == 0 {
		return ErrNotLoaded
	}
	if o.mapped != nil {
		_ = o.mapped.Close()
		o.mapped = nil
	}

	m, err := bindump.Map(o.data)
	if err != nil {
		o.Clear()
		return err
	}
	varIdx, norm, err := buildIntervalTables(m.Dump)
	if err != nil {
		_ = m.Close()
		o.Clear()
		return err
	}

	o.mapped = m
	o.varIntervalIdx = varIdx
	o.intervalNorm = norm

	o.mu.Lock()
	o.cache = groupcache.New[uint16, *bindump.Group](o.opts.capacity())
	o.mu.Unlock()
	return nil
}

// buildIntervalTables maps each var to the interval bound to it and each
// interval to the bucket of its var's default value.
func buildIntervalTables(d *bindump.Dump) ([]int16, []uint8, error) {
	if d.NumIntervals() > math.MaxInt16 {
		return nil, nil, fmt.Errorf("%w: %d intervals", bindump.ErrCorruptFile, d.NumIntervals())
	}
	varIdx := make([]int16, d.NumVars())
	for i := range varIdx {
		varIdx[i] = -1
	}
	norm := make([]uint8, d.NumIntervals())
	for i := range norm {
		iv, err := d.Interval(i)
		if err != nil {
			return nil, nil, err
		}
		if iv.Var == bindump.None {
			continue
		}
		v, err := d.Var(int(iv.Var))
		if err != nil {
			return nil, nil, err
		}
		varIdx[iv.Var] = int16(i)
		norm[i] = uint8(min(iv.Normalize(v.Default), math.MaxUint8))
	}
	return varIdx, norm, nil
}

// Clear drops the views, the cache, the derived tables and the buffer.
func (o *Owner) Clear() {
	wasLoaded := o.mapped != nil
	if o.mapped != nil {
		_ = o.mapped.Close()
		o.mapped = nil
	}
	if o.mmapped && o.data != nil {
		if err := unmap(o.data); err != nil {
			o.log.Warn("munmap failed", "error", err)
		}
	}
	o.data = nil
	o.mmapped = false
	o.varIntervalIdx = nil
	o.intervalNorm = nil

	o.mu.Lock()
	o.cache = nil
	o.mu.Unlock()

	if wasLoaded {
		o.log.Info("dump cleared", "load_id", o.loadID)
	}
	o.loadID = uuid.Nil
	o.generation = 0
}

// DumpSize returns the size of the resident dump, or 0 when empty.
func (o *Owner) DumpSize() int {
	if o.mapped == nil {
		return 0
	}
	return len(o.data)
}

// Dump returns the version-independent view, or nil when empty.
func (o *Owner) Dump() *bindump.Dump {
	if o.mapped == nil {
		return nil
	}
	return o.mapped.Dump
}

func (o *Owner) V1() *bindump.DumpV1 {
	if o.mapped == nil {
		return nil
	}
	return o.mapped.V1
}

func (o *Owner) V2() *bindump.DumpV2 {
	if o.mapped == nil {
		return nil
	}
	return o.mapped.V2
}

func (o *Owner) V3() *bindump.DumpV3 {
	if o.mapped == nil {
		return nil
	}
	return o.mapped.V3
}

// Version returns the format version of the resident dump, or 0.
func (o *Owner) Version() uint16 {
	return o.mapped.Version()
}

// Mmapped reports whether the resident buffer is a file mapping.
func (o *Owner) Mmapped() bool {
	return o.mmapped
}

// GlobVarIntervalIdx holds, per var, the index of its interval or -1.
// The slice must not be modified.
func (o *Owner) GlobVarIntervalIdx() []int16 {
	return o.varIntervalIdx
}

// GlobIntervalNormValues holds, per interval, the bucket of its var's
// default value. The slice must not be modified.
func (o *Owner) GlobIntervalNormValues() []uint8 {
	return o.intervalNorm
}

func (o *Owner) CacheStats() groupcache.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		return groupcache.Stats{}
	}
	return o.cache.Stats()
}

// CachedGroups returns the cached group ids from most to least recently used.
func (o *Owner) CachedGroups() []uint16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		return nil
	}
	return o.cache.Keys()
}

// LoadID identifies the current load; it is uuid.Nil when empty.
func (o *Owner) LoadID() uuid.UUID {
	return o.loadID
}

// Generation is the value of the global load counter at the current load.
func (o *Owner) Generation() uint64 {
	return o.generation
}
