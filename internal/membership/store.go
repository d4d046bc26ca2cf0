// Package membership keeps the identity to group table used for group
// addressing and for re-synchronizing the groups stored on each drone.
package membership

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/datagram"
)

// SyncVerb is the verb reported for group assignment datagrams
const SyncVerb = "set_group"

// Entry is one row of the membership table
type Entry struct {
	Identity string
	Group    address.GroupID
}

// Table is an immutable snapshot of the membership file. Entries keep
// file order.
type Table struct {
	entries []Entry
	index   map[string]address.GroupID
}

func newTable(entries []Entry) *Table {
	index := make(map[string]address.GroupID, len(entries))
	for _, e := range entries {
		index[e.Identity] = e.Group
	}
	return &Table{entries: entries, index: index}
}

// Lookup returns the group of identity, or 0 when it is not listed
func (t *Table) Lookup(identity string) address.GroupID {
	return t.index[identity]
}

// Len returns the number of entries
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entries in file order
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Dispatcher sends one record to the swarm
type Dispatcher interface {
	Dispatch(ctx context.Context, out io.Writer, verb string, target address.Target, record datagram.Record) error
}

// SyncResult counts the outcome of a group re-synchronization
type SyncResult struct {
	Sent   int
	Failed int
}

// Store caches the membership table loaded from a YAML file. The table is
// replaced as a whole on every load, so readers always observe a
// complete snapshot.
type Store struct {
	path   string
	logger *zap.Logger
	table  atomic.Pointer[Table]
}

// NewStore creates a store for the file at path, starting with an empty table
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger}
	s.table.Store(newTable(nil))
	return s
}

// Path returns the membership file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the membership file. A missing file yields an empty table;
// a malformed file returns an error and leaves the current table in place.
func (s *Store) Load() error {
	table, err := readTable(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Group file not found, using empty table", zap.String("path", s.path))
			s.table.Store(newTable(nil))
			return nil
		}
		return err
	}

	s.table.Store(table)
	s.logger.Info("Group table loaded", zap.String("path", s.path), zap.Int("entries", table.Len()))
	return nil
}

// Reload re-reads the membership file and swaps the cached table
func (s *Store) Reload() error {
	if err := s.Load(); err != nil {
		s.logger.Warn("Group table reload failed, keeping previous table", zap.String("path", s.path), zap.Error(err))
		return err
	}
	return nil
}

// Snapshot returns the current table
func (s *Store) Snapshot() *Table {
	return s.table.Load()
}

// Lookup returns the cached group of identity, 0 when unknown
func (s *Store) Lookup(identity string) address.GroupID {
	return s.table.Load().Lookup(identity)
}

// Entries returns the current table rows in file order
func (s *Store) Entries() []Entry {
	return s.table.Load().Entries()
}

// BroadcastSync sends one individually addressed set_group datagram per
// table entry, in table order. A failed entry does not stop the sync.
func (s *Store) BroadcastSync(ctx context.Context, out io.Writer, d Dispatcher) (SyncResult, error) {
	var result SyncResult

	for _, entry := range s.table.Load().entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record := datagram.GroupAssignment(entry.Identity, entry.Group)
		if err := d.Dispatch(ctx, out, SyncVerb, address.ID(entry.Identity), record); err != nil {
			result.Failed++
			fmt.Fprintf(out, "error: %v\n", err)
			s.logger.Warn("Group sync dispatch failed", zap.String("identity", entry.Identity), zap.Error(err))
			continue
		}
		result.Sent++
	}

	s.logger.Info("Group sync completed", zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	return result, nil
}

// readTable parses a flat YAML mapping of identity to group id. Identities
// are taken verbatim from the key text, so 007 and 0x10 stay as written
// instead of being read as the integers 7 and 16.
func readTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse group file %s: %w", path, err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return newTable(nil), nil
		}
		doc = doc.Content[0]
	}
	switch {
	case doc.Kind == 0, doc.Kind == yaml.ScalarNode && doc.ShortTag() == "!!null":
		return newTable(nil), nil
	case doc.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("group file %s: line %d: expected a mapping of identity to group", path, doc.Line)
	}

	entries := make([]Entry, 0, len(doc.Content)/2)
	seen := make(map[string]bool, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		identity, err := identityKey(doc.Content[i])
		if err != nil {
			return nil, fmt.Errorf("group file %s: %w", path, err)
		}
		if seen[identity] {
			return nil, fmt.Errorf("group file %s: duplicate identity %q", path, identity)
		}
		seen[identity] = true

		group, err := groupValue(doc.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("group file %s: identity %q: %w", path, identity, err)
		}
		entries = append(entries, Entry{Identity: identity, Group: group})
	}

	return newTable(entries), nil
}

func identityKey(key *yaml.Node) (string, error) {
	key = dealias(key)
	if key.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: identity must be a scalar", key.Line)
	}
	switch key.ShortTag() {
	case "!!str", "!!int":
	default:
		return "", fmt.Errorf("line %d: identity %s must be a string or integer, quote it", key.Line, key.Value)
	}
	if key.Value == "" {
		return "", fmt.Errorf("line %d: empty identity", key.Line)
	}
	return key.Value, nil
}

func groupValue(value *yaml.Node) (address.GroupID, error) {
	value = dealias(value)
	if value.Kind != yaml.ScalarNode || value.ShortTag() != "!!int" {
		return 0, fmt.Errorf("line %d: group %s is not an integer", value.Line, value.Value)
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return 0, fmt.Errorf("line %d: group %s: %w", value.Line, value.Value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("group %d is negative", n)
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("group %d is out of range", n)
	}
	return address.GroupID(n), nil
}

func dealias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}
