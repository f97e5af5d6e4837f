package accessstore

import (
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/joynr-go/clustercontroller/cmn/jsp"
	"github.com/joynr-go/clustercontroller/cmn/metrics"
)

// snapshotRow is one persisted key/value pair. Storing the raw JSON
// values rather than re-typing per table keeps the snapshot format
// agnostic to future table additions and lets Load() replay rows
// without knowing every concrete entry type up front.
type snapshotRow struct {
	Key   string
	Value string
}

type snapshotDoc struct {
	Rows []snapshotRow
}

func (snapshotDoc) JspOpts() jsp.Options {
	return jsp.Options{Checksum: true}
}

// snapshot persists the full contents of the store's buntdb index. It is
// called after every mutation, matching the "snapshots to disk after
// every mutation" lifecycle rule. A store with no configured path is a
// no-op (used by tests and local-only mode).
func (s *Store) snapshot() error {
	if s.snapshotPath == "" {
		return nil
	}
	var doc snapshotDoc
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			doc.Rows = append(doc.Rows, snapshotRow{Key: key, Value: value})
			return true
		})
	})
	if err != nil {
		return errors.Wrap(err, "accessstore: enumerate rows for snapshot")
	}
	if err := jsp.SaveMeta(s.snapshotPath, doc, nil); err != nil {
		return errors.Wrap(err, "accessstore: write snapshot")
	}
	metrics.AccessStoreSnapshotWrites.Inc()
	return nil
}

// Load restores the store from its configured snapshot path. A missing
// file is not an error; a corrupt file is logged and the store is left
// empty, per the specification.
func (s *Store) Load() error {
	if s.snapshotPath == "" {
		return nil
	}
	var doc snapshotDoc
	_, err := jsp.LoadMeta(s.snapshotPath, &doc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		glog.Errorf("accessstore: corrupt snapshot %s, starting empty: %v", s.snapshotPath, err)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtx = newRadixTree()
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, row := range doc.Rows {
			if _, _, err := tx.Set(row.Key, row.Value, nil); err != nil {
				return errors.Wrapf(err, "accessstore: restore key %s", row.Key)
			}
			s.reindexWildcard(row.Key, row.Value)
		}
		return nil
	})
}

// reindexWildcard decodes a restored row and, if its domain field carries
// a wildcard suffix, reinserts it into the radix tree. The table prefix
// of the key (before the first record separator) identifies which
// concrete entry type to decode into.
func (s *Store) reindexWildcard(key, value string) {
	table := key[:strings.Index(key, recordSeparator)]
	switch table {
	case tableMasterACE:
		var e MasterACE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.masterACE = append(b.masterACE, e)
			}
		}
	case tableMediatorACE:
		var e MediatorACE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.mediatorACE = append(b.mediatorACE, e)
			}
		}
	case tableOwnerACE:
		var e OwnerACE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.ownerACE = append(b.ownerACE, e)
			}
		}
	case tableMasterRCE:
		var e MasterRCE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.masterRCE = append(b.masterRCE, e)
			}
		}
	case tableMediatorRCE:
		var e MediatorRCE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.mediatorRCE = append(b.mediatorRCE, e)
			}
		}
	case tableOwnerRCE:
		var e OwnerRCE
		if json.Unmarshal([]byte(value), &e) == nil {
			if prefix, ok := isWildcardSuffix(e.Domain); ok {
				b := s.rtx.insert(prefix)
				b.ownerRCE = append(b.ownerRCE, e)
			}
		}
	}
}
