package tileindex

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

type buildNode struct {
	flags    Flags
	children [4]*buildNode
}

// Builder assembles an in-memory quad-tree and serialises it into the
// immutable on-disk form. Not safe for concurrent use.
type Builder struct {
	root  *buildNode
	count int
}

func NewBuilder() *Builder {
	return &Builder{root: &buildNode{}, count: 1}
}

// Set records flags for one tile, creating the path from the root.
// Setting overwrites any previous flags for the tile.
func (b *Builder) Set(t frame.TileID, flags Flags) {
	n := b.root
	for level := t.Lod - 1; level >= 0; level-- {
		i := childIndex(t, level)
		if n.children[i] == nil {
			n.children[i] = &buildNode{}
			b.count++
		}
		n = n.children[i]
	}
	n.flags = flags
}

// Get returns the flags recorded for a tile, or 0.
func (b *Builder) Get(t frame.TileID) Flags {
	n := b.root
	for level := t.Lod - 1; level >= 0; level-- {
		n = n.children[childIndex(t, level)]
		if n == nil {
			return 0
		}
	}
	return n.flags
}

// Save serialises the tree next to path and atomically renames it into
// place. The written file is never modified again; a new revision writes
// a new file and swaps.
func (b *Builder) Save(path string) error {
	var buf bytes.Buffer
	buf.Write(headerBytes(uint32(b.count)))

	// assign offsets depth-first, then emit in the same order
	offsets := map[*buildNode]uint32{}
	next := uint32(headerSize)
	var assign func(n *buildNode)
	assign = func(n *buildNode) {
		offsets[n] = next
		next += nodeSize
		for _, c := range n.children {
			if c != nil {
				assign(c)
			}
		}
	}
	assign(b.root)

	var emit func(n *buildNode)
	emit = func(n *buildNode) {
		buf.WriteByte(byte(n.flags))
		var rec [16]byte
		for i, c := range n.children {
			if c != nil {
				binary.LittleEndian.PutUint32(rec[i*4:], offsets[c])
			}
		}
		buf.Write(rec[:])
		for _, c := range n.children {
			if c != nil {
				emit(c)
			}
		}
	}
	emit(b.root)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "tileindex: create %s", tmp)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileindex: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileindex: fsync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileindex: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileindex: rename %s", path)
	}
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
