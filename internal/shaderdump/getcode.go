package shaderdump

import (
	"errors"

	"github.com/samcharles93/shaderdump/pkg/bindump"
)

// Bytecode is a caller-owned scratch buffer for GetCode.
type Bytecode []uint32

// GetCode returns the words of program id of the given type.
//
// The result aliases *tmp, which is grown as needed; it never aliases the
// dump or the cache. A nil tmp allocates a fresh buffer. Grouped dumps
// decompress on a cache miss outside the cache lock, so two goroutines
// missing on the same group may both decompress it; the first to publish
// wins.
func (o *Owner) GetCode(id uint32, typ bindump.CodeType, tmp *Bytecode) ([]uint32, error) {
	m := o.mapped
	if m == nil {
		return nil, ErrNotLoaded
	}
	if tmp == nil {
		tmp = new(Bytecode)
	}

	if m.V1 != nil {
		code, err := m.V1.CopyCode(typ, id, *tmp)
		if err != nil {
			return nil, o.lookupFailed(err)
		}
		*tmp = code
		return code, nil
	}

	src := m.Groups()
	grp, idx, err := src.Locate(typ, id)
	if err != nil {
		return nil, o.lookupFailed(err)
	}

	o.mu.Lock()
	if g, ok := o.cache.Get(grp); ok {
		code, err := g.AppendWords(*tmp, int(idx))
		o.mu.Unlock()
		return o.finish(tmp, code, err)
	}
	o.mu.Unlock()

	g, err := src.DecompressGroup(grp)
	if err != nil {
		return nil, err
	}

	var evicted, uncached bool
	o.mu.Lock()
	if cached, ok := o.cache.Peek(grp); ok {
		g = cached
	} else if o.cacheable(g) {
		evicted = o.cache.Add(grp, g)
	} else {
		uncached = true
	}
	code, err := g.AppendWords(*tmp, int(idx))
	o.mu.Unlock()

	switch {
	case evicted:
		o.log.Debug("group cache eviction", "group", grp)
	case uncached:
		o.log.Debug("group served uncached", "group", grp, "bytes", g.Size())
	}
	return o.finish(tmp, code, err)
}

func (o *Owner) cacheable(g *bindump.Group) bool {
	if o.cache.Capacity() == 0 {
		return false
	}
	return o.opts.MaxCachedGroupSize <= 0 || g.Size() <= o.opts.MaxCachedGroupSize
}

func (o *Owner) finish(tmp *Bytecode, code []uint32, err error) ([]uint32, error) {
	if err != nil {
		return nil, err
	}
	*tmp = code
	return code, nil
}

func (o *Owner) lookupFailed(err error) error {
	if o.opts.StrictIDs && errors.Is(err, bindump.ErrUnknownID) {
		panic(err)
	}
	return err
}
