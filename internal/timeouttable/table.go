// table.go - Ordered threshold -> command-list collection
package timeouttable

import (
	"fmt"
	"io"
	"log"

	"xs-timeout/internal/daemonize"
)

// ResetThreshold is the reserved key for the on-activity bucket. It
// never appears in Next or ExecRange; only ExecReset reaches it.
const ResetThreshold uint32 = 0

// Bucket groups the commands registered at one threshold.
type Bucket struct {
	Threshold uint32
	Commands  []string
}

// Table is an ordered, strictly-ascending-by-threshold collection of
// buckets. The zero value is an empty table; New returns a pointer to
// one.
type Table struct {
	buckets []Bucket
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// search returns the index of threshold if present, and whether it
// was found. When not found, index is the insertion point that keeps
// buckets sorted ascending.
func (t *Table) search(threshold uint32) (int, bool) {
	lo, hi := 0, len(t.buckets)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case t.buckets[mid].Threshold == threshold:
			return mid, true
		case t.buckets[mid].Threshold < threshold:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// Append inserts cmd into the bucket for threshold, creating that
// bucket if absent. Within a bucket, commands are appended in
// insertion order.
func (t *Table) Append(threshold uint32, cmd string) {
	idx, found := t.search(threshold)
	if found {
		t.buckets[idx].Commands = append(t.buckets[idx].Commands, cmd)
		return
	}

	t.buckets = append(t.buckets, Bucket{})
	copy(t.buckets[idx+1:], t.buckets[idx:])
	t.buckets[idx] = Bucket{Threshold: threshold, Commands: []string{cmd}}
}

// Get performs an exact-match lookup.
func (t *Table) Get(threshold uint32) (Bucket, bool) {
	idx, found := t.search(threshold)
	if !found {
		return Bucket{}, false
	}
	return t.buckets[idx], true
}

// Next returns the smallest threshold strictly greater than after,
// skipping the reserved reset bucket. It returns (0, false) if no
// higher non-zero threshold exists.
func (t *Table) Next(after uint32) (uint32, bool) {
	idx, found := t.search(after)
	if found {
		idx++
	}
	for ; idx < len(t.buckets); idx++ {
		if t.buckets[idx].Threshold != ResetThreshold {
			return t.buckets[idx].Threshold, true
		}
	}
	return 0, false
}

// ExecRange spawns every command in buckets whose threshold lies in
// (from, to], skipping the reserved reset bucket, in ascending
// threshold order. It returns the total number of commands spawned.
// Traversal stops as soon as a bucket's threshold exceeds to, since
// buckets are sorted ascending.
func (t *Table) ExecRange(from, to uint32) int {
	spawned := 0
	for _, b := range t.buckets {
		if b.Threshold == ResetThreshold {
			continue
		}
		if b.Threshold > to {
			break
		}
		if b.Threshold > from {
			spawned += execAll(b.Commands)
		}
	}
	return spawned
}

// ExecReset spawns every command in the reset bucket, if any.
func (t *Table) ExecReset() int {
	b, ok := t.Get(ResetThreshold)
	if !ok {
		return 0
	}
	return execAll(b.Commands)
}

func execAll(cmds []string) int {
	spawned := 0
	for _, cmd := range cmds {
		if err := daemonize.Spawn(cmd); err != nil {
			log.Printf("xs-timeout: failed to spawn %q: %v", cmd, err)
			continue
		}
		spawned++
	}
	return spawned
}

// Inspect writes a debug dump of the table in the form
// {5: ["foo"], 10: ["bar", "baz"]} and returns the byte count written.
func (t *Table) Inspect(w io.Writer) int {
	n, _ := io.WriteString(w, "{")
	for i, b := range t.buckets {
		if i != 0 {
			m, _ := io.WriteString(w, ", ")
			n += m
		}
		m, _ := fmt.Fprintf(w, "%d: [", b.Threshold)
		n += m
		for j, cmd := range b.Commands {
			if j != 0 {
				m, _ := io.WriteString(w, ", ")
				n += m
			}
			m, _ := fmt.Fprintf(w, "%q", cmd)
			n += m
		}
		m, _ = io.WriteString(w, "]")
		n += m
	}
	m, _ := io.WriteString(w, "}")
	n += m
	return n
}

// Free releases the table's storage by dropping its buckets for the
// garbage collector; the table is empty afterwards. Kept as an explicit
// call so the Go contract stays symmetrical with the rest of the spec's
// lifecycle.
func (t *Table) Free() {
	t.buckets = nil
}

// Len returns the number of distinct thresholds registered, including
// the reset bucket if present.
func (t *Table) Len() int {
	return len(t.buckets)
}
