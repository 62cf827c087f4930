// Package headerpage is the name -> root-page-id registry: one fixed page
// (HeaderPageID) persists the mapping from an index's name to the page id of
// its current root, the way DaemonDB's catalog package maps table names to
// file ids (storage_engine/catalog/structs.go) and
// heapfile_manager/page_header.go hand-rolls a binary.LittleEndian layout for
// a page's fixed header fields.
package headerpage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"storagecore/page"
)

// HeaderPageID is the well-known page id the registry lives at. Page 0 is
// reserved for it; the first real B+ tree page is allocated starting at 1.
const HeaderPageID int64 = 0

// Pool is the subset of bufferpool.Pool the registry needs.
type Pool interface {
	FetchPage(pageID int64) (*page.Page, error)
	NewPage() (*page.Page, error)
	UnpinPage(pageID int64, dirty bool) bool
}

// record layout within the header page: a 4-byte count, then repeated
// entries of [2-byte name length][name bytes][8-byte root page id].
const countOffset = 0
const entriesOffset = 4

// Registry reads and writes the header page's name -> root-page-id table. A
// ristretto read-through cache sits in front of disk lookups, since the
// registry is consulted on every index open and is otherwise the hottest
// single page in the system.
type Registry struct {
	mu   sync.Mutex
	pool Pool

	cache *ristretto.Cache[string, int64]
}

// New wires a registry on top of pool. It does not itself allocate the
// header page; call Init once, on a freshly formatted database, before any
// other registry method.
func New(pool Pool) (*Registry, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, int64]{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("headerpage: create cache: %w", err)
	}
	return &Registry{pool: pool, cache: cache}, nil
}

// Init allocates the header page and writes an empty table to it. The
// caller must ensure this runs exactly once, on a database with no prior
// header page (AllocatePage will hand out page 0 only on a fresh disk
// manager).
func (r *Registry) Init() error {
	pg, err := r.pool.NewPage()
	if err != nil {
		return fmt.Errorf("headerpage: allocate header page: %w", err)
	}
	if pg.ID != HeaderPageID {
		r.pool.UnpinPage(pg.ID, false)
		return fmt.Errorf("headerpage: expected header page id %d, got %d", HeaderPageID, pg.ID)
	}
	binary.LittleEndian.PutUint32(pg.Data[countOffset:], 0)
	r.pool.UnpinPage(pg.ID, true)
	return nil
}

// GetRootID returns the root page id registered for name. ok is false if no
// such entry exists.
func (r *Registry) GetRootID(name string) (int64, bool, error) {
	if cached, ok := r.cache.Get(name); ok {
		return cached, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return 0, false, err
	}
	rootID, ok := entries[name]
	if ok {
		r.cache.Set(name, rootID, int64(len(name)+8))
	}
	return rootID, ok, nil
}

// InsertRecord registers a brand-new index name with its root page id.
// Fails if name is already registered.
func (r *Registry) InsertRecord(name string, rootPageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	if _, exists := entries[name]; exists {
		return fmt.Errorf("headerpage: index %q already registered", name)
	}
	entries[name] = rootPageID
	if err := r.store(entries); err != nil {
		return err
	}
	r.cache.Set(name, rootPageID, int64(len(name)+8))
	return nil
}

// UpdateRecord rewrites name's root page id, for instance after a root
// split or an AdjustRoot collapse. Fails if name is not registered.
func (r *Registry) UpdateRecord(name string, rootPageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	if _, exists := entries[name]; !exists {
		return fmt.Errorf("headerpage: index %q not registered", name)
	}
	entries[name] = rootPageID
	if err := r.store(entries); err != nil {
		return err
	}
	r.cache.Set(name, rootPageID, int64(len(name)+8))
	return nil
}

// load reads the header page and decodes the full name -> root id table.
// Caller must hold r.mu.
func (r *Registry) load() (map[string]int64, error) {
	pg, err := r.pool.FetchPage(HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("headerpage: fetch header page: %w", err)
	}
	defer r.pool.UnpinPage(HeaderPageID, false)

	count := binary.LittleEndian.Uint32(pg.Data[countOffset:])
	entries := make(map[string]int64, count)
	off := entriesOffset
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(pg.Data[off:]))
		off += 2
		name := string(pg.Data[off : off+nameLen])
		off += nameLen
		rootID := int64(binary.LittleEndian.Uint64(pg.Data[off:]))
		off += 8
		entries[name] = rootID
	}
	return entries, nil
}

// store encodes entries back into the header page. Caller must hold r.mu.
func (r *Registry) store(entries map[string]int64) error {
	pg, err := r.pool.FetchPage(HeaderPageID)
	if err != nil {
		return fmt.Errorf("headerpage: fetch header page: %w", err)
	}

	binary.LittleEndian.PutUint32(pg.Data[countOffset:], uint32(len(entries)))
	off := entriesOffset
	for name, rootID := range entries {
		need := off + 2 + len(name) + 8
		if need > page.PageSize {
			r.pool.UnpinPage(HeaderPageID, false)
			return fmt.Errorf("headerpage: registry table overflowed page size")
		}
		binary.LittleEndian.PutUint16(pg.Data[off:], uint16(len(name)))
		off += 2
		copy(pg.Data[off:], name)
		off += len(name)
		binary.LittleEndian.PutUint64(pg.Data[off:], uint64(rootID))
		off += 8
	}

	r.pool.UnpinPage(HeaderPageID, true)
	return nil
}
