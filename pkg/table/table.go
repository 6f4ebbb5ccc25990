// Package table implements the open-addressed hash map used both for
// the VM's global environment and its string intern pool. It is a
// direct port of the reference implementation's ms_map.c: FNV-1a
// hashing, linear probing, and tombstone-marked deletion so probe
// chains stay intact.
package table

import "github.com/kristofer/miniscript/pkg/value"

const maxLoad = 0.75

type entry struct {
	key   value.Value
	val   value.Value
	used  bool // false+tombstone still occupies a probe slot
	tomb  bool
	valid bool // false only for a never-written slot
}

// Table is a value-keyed open-addressed hash table. String keys are
// compared and hashed by content; number keys are hashed from a scaled
// integer encoding (see numKey) and compared with value.Equal; any
// other key hashes to 0. The VM keys only by String.
type Table struct {
	entries []entry
	count   int // occupied slots: live entries plus tombstones (matches reference)
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Count returns the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	live := 0
	for _, e := range t.entries {
		if e.valid && e.used {
			live++
		}
	}
	return live
}

func hashOf(v value.Value) uint32 {
	if v.IsString() {
		return value.HashString(v.AsString())
	}
	if v.IsNum() {
		bits := v.AsNum()
		return value.HashString(numKey(bits))
	}
	return 0
}

func numKey(f float64) string {
	// Stable textual key for non-string keys; this table is only ever
	// actually keyed by strings in this module, so collisions here are
	// harmless — kept for completeness of the generic Value-keyed map.
	buf := make([]byte, 0, 24)
	buf = append(buf, 'n')
	bits := int64(f * 1e9)
	for bits != 0 {
		buf = append(buf, byte(bits))
		bits >>= 8
	}
	return string(buf)
}

func keysEqual(a, b value.Value) bool {
	if a.IsString() && b.IsString() {
		return a.AsString() == b.AsString()
	}
	return value.Equal(a, b)
}

// findEntry locates the slot key belongs in: either the slot already
// holding an equal key, or the first empty/tombstone slot encountered
// while probing (matching the reference's tombstone-reuse policy).
func findEntry(entries []entry, key value.Value) int {
	cap := len(entries)
	idx := int(hashOf(key)) % cap
	var tombstone = -1
	for {
		e := &entries[idx]
		if !e.valid {
			if tombstone != -1 {
				return tombstone
			}
			return idx
		}
		if !e.used {
			if tombstone == -1 {
				tombstone = idx
			}
		} else if keysEqual(e.key, key) {
			return idx
		}
		idx = (idx + 1) % cap
	}
}

func (t *Table) adjustCapacity(newCap int) {
	newEntries := make([]entry, newCap)
	t.count = 0
	for _, e := range t.entries {
		if !e.valid || !e.used {
			continue
		}
		idx := findEntry(newEntries, e.key)
		newEntries[idx] = entry{key: e.key, val: e.val, used: true, valid: true}
		t.count++
	}
	t.entries = newEntries
}

// Set installs key=val, growing the table first if the load factor
// would exceed 0.75. Returns true if this inserted a brand new key.
func (t *Table) Set(key, val value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		newCap := 8
		if len(t.entries) > 0 {
			newCap = len(t.entries) * 2
		}
		t.adjustCapacity(newCap)
	}

	idx := findEntry(t.entries, key)
	e := &t.entries[idx]
	isNew := !e.valid || !e.used
	if isNew && (!e.valid) {
		t.count++
	}
	*e = entry{key: key, val: val, used: true, valid: true}
	return isNew
}

// Get looks up key. Returns the zero Value and false on a miss.
func (t *Table) Get(key value.Value) (value.Value, bool) {
	if len(t.entries) == 0 {
		return value.Value{}, false
	}
	idx := findEntry(t.entries, key)
	e := &t.entries[idx]
	if !e.valid || !e.used {
		return value.Value{}, false
	}
	return e.val, true
}

// Delete marks key's slot as a tombstone, preserving the probe chain
// for any keys hashed past it.
func (t *Table) Delete(key value.Value) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := findEntry(t.entries, key)
	e := &t.entries[idx]
	if !e.valid || !e.used {
		return false
	}
	e.used = false
	e.tomb = true
	return true
}

// FindString looks up a string by raw content and hash without
// constructing a Value first — the specialised path the string
// intern pool uses, matching ms_findStringInMap.
func (t *Table) FindString(s string) *value.Object {
	if len(t.entries) == 0 {
		return nil
	}
	cap := len(t.entries)
	h := value.HashString(s)
	idx := int(h) % cap
	for {
		e := &t.entries[idx]
		if !e.valid {
			return nil
		}
		if e.used && e.key.IsString() && e.key.AsString() == s {
			return e.key.AsObj()
		}
		idx = (idx + 1) % cap
	}
}
