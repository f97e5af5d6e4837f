package accessstore

import (
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/joynr-go/clustercontroller/cmn/metrics"
	"github.com/joynr-go/clustercontroller/messaging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store indexes the six access/registration control entry tables plus the
// domain-role table. Keys are built so that a plain buntdb glob-prefix
// scan doubles as the (domain, interfaceName) and domain-only secondary
// indices described by the specification; the composite primary key is
// probed directly (no scan) in the four-way wildcard precedence order.
// A companion radix tree answers hierarchical, wildcard-suffix domain
// lookups (e.g. "com.example.*").
type Store struct {
	mu  sync.RWMutex
	db  *buntdb.DB
	rtx *radixTree

	snapshotPath string
}

// New creates an empty, process-lifetime store. If snapshotPath is
// non-empty, Load is attempted immediately (a missing file is not an
// error) and every subsequent mutation re-snapshots to it.
func New(snapshotPath string) (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "accessstore: open in-memory index")
	}
	s := &Store{db: db, rtx: newRadixTree(), snapshotPath: snapshotPath}
	if snapshotPath != "" {
		if err := s.Load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func aceKey(table, uid, domain, iface, op string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s%s%s", table, recordSeparator, domain, recordSeparator, iface, recordSeparator, uid, recordSeparator, op)
}

func rceKey(table, uid, domain, iface string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s", table, recordSeparator, domain, recordSeparator, iface, recordSeparator, uid)
}

func dreKey(uid string, role messaging.Role) string {
	return fmt.Sprintf("dre%s%s%s%d", recordSeparator, uid, recordSeparator, role)
}

const (
	tableMasterACE   = "mace"
	tableMediatorACE = "iace"
	tableOwnerACE    = "oace"
	tableMasterRCE   = "mrce"
	tableMediatorRCE = "irce"
	tableOwnerRCE    = "orce"
)

func isWildcardSuffix(domain string) (prefix string, ok bool) {
	if len(domain) > 0 && domain[len(domain)-1] == '*' && domain != messaging.Wildcard {
		return domain[:len(domain)-1], true
	}
	return "", false
}

// --- Master ACE -----------------------------------------------------------

func (s *Store) UpdateMasterACE(e MasterACE) error {
	return s.putJSON(aceKey(tableMasterACE, e.UID, e.Domain, e.InterfaceName, e.Operation), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.masterACE = append(b.masterACE, e)
		}
	})
}

func (s *Store) RemoveMasterACE(uid, domain, iface, op string) error {
	return s.delete(aceKey(tableMasterACE, uid, domain, iface, op))
}

// GetMasterACE implements the four-probe wildcard precedence lookup,
// falling back to the radix tree's wildcard-suffix domain matches (e.g. an
// entry registered for "com.example.*") when no entry is keyed under the
// exact domain.
func (s *Store) GetMasterACE(uid, domain, iface, op string) (*MasterACE, error) {
	var out MasterACE
	ok, err := s.getFirst(&out, []string{
		aceKey(tableMasterACE, uid, domain, iface, op),
		aceKey(tableMasterACE, uid, domain, iface, messaging.Wildcard),
		aceKey(tableMasterACE, messaging.Wildcard, domain, iface, op),
		aceKey(tableMasterACE, messaging.Wildcard, domain, iface, messaging.Wildcard),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardMasterACE(domain, uid, iface, op), nil
}

func (s *Store) wildcardMasterACE(domain, uid, iface, op string) *MasterACE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	return bestACE(bucket.masterACE, uid, iface, op)
}

func (s *Store) wildcardMediatorACE(domain, uid, iface, op string) *MediatorACE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	return bestACE(bucket.mediatorACE, uid, iface, op)
}

func (s *Store) wildcardOwnerACE(domain, uid, iface, op string) *OwnerACE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	var best *OwnerACE
	bestScore := -1
	for i := range bucket.ownerACE {
		e := &bucket.ownerACE[i]
		if e.InterfaceName != iface {
			continue
		}
		if e.UID != uid && e.UID != messaging.Wildcard {
			continue
		}
		if e.Operation != op && e.Operation != messaging.Wildcard {
			continue
		}
		score := 0
		if e.UID == uid {
			score += 2
		}
		if e.Operation == op {
			score++
		}
		if score > bestScore {
			bestScore, best = score, e
		}
	}
	return best
}

func (s *Store) wildcardMasterRCE(domain, uid, iface string) *MasterRCE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	return bestRCE(bucket.masterRCE, uid, iface)
}

func (s *Store) wildcardMediatorRCE(domain, uid, iface string) *MediatorRCE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	return bestRCE(bucket.mediatorRCE, uid, iface)
}

func (s *Store) wildcardOwnerRCE(domain, uid, iface string) *OwnerRCE {
	s.mu.RLock()
	bucket := s.rtx.merged(domain)
	s.mu.RUnlock()
	var best *OwnerRCE
	bestScore := -1
	for i := range bucket.ownerRCE {
		e := &bucket.ownerRCE[i]
		if e.InterfaceName != iface {
			continue
		}
		if e.UID != uid && e.UID != messaging.Wildcard {
			continue
		}
		score := 0
		if e.UID == uid {
			score++
		}
		if score > bestScore {
			bestScore, best = score, e
		}
	}
	return best
}

// bestACE picks the highest-precedence MasterACE/MediatorACE candidate
// among a wildcard-domain bucket's matches: an exact uid beats a wildcard
// uid, an exact operation beats a wildcard operation, and both losing
// criteria are independent (an exact-uid/wildcard-op entry beats a
// wildcard-uid/exact-op one only by convention of uid mattering first).
func bestACE(candidates []MasterACE, uid, iface, op string) *MasterACE {
	var best *MasterACE
	bestScore := -1
	for i := range candidates {
		e := &candidates[i]
		if e.InterfaceName != iface {
			continue
		}
		if e.UID != uid && e.UID != messaging.Wildcard {
			continue
		}
		if e.Operation != op && e.Operation != messaging.Wildcard {
			continue
		}
		score := 0
		if e.UID == uid {
			score += 2
		}
		if e.Operation == op {
			score++
		}
		if score > bestScore {
			bestScore, best = score, e
		}
	}
	return best
}

func bestRCE(candidates []MasterRCE, uid, iface string) *MasterRCE {
	var best *MasterRCE
	bestScore := -1
	for i := range candidates {
		e := &candidates[i]
		if e.InterfaceName != iface {
			continue
		}
		if e.UID != uid && e.UID != messaging.Wildcard {
			continue
		}
		score := 0
		if e.UID == uid {
			score++
		}
		if score > bestScore {
			bestScore, best = score, e
		}
	}
	return best
}

// --- Mediator ACE (identical shape/keying to Master ACE) ------------------

func (s *Store) UpdateMediatorACE(e MediatorACE) error {
	return s.putJSON(aceKey(tableMediatorACE, e.UID, e.Domain, e.InterfaceName, e.Operation), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.mediatorACE = append(b.mediatorACE, e)
		}
	})
}

func (s *Store) RemoveMediatorACE(uid, domain, iface, op string) error {
	return s.delete(aceKey(tableMediatorACE, uid, domain, iface, op))
}

func (s *Store) GetMediatorACE(uid, domain, iface, op string) (*MediatorACE, error) {
	var out MediatorACE
	ok, err := s.getFirst(&out, []string{
		aceKey(tableMediatorACE, uid, domain, iface, op),
		aceKey(tableMediatorACE, uid, domain, iface, messaging.Wildcard),
		aceKey(tableMediatorACE, messaging.Wildcard, domain, iface, op),
		aceKey(tableMediatorACE, messaging.Wildcard, domain, iface, messaging.Wildcard),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardMediatorACE(domain, uid, iface, op), nil
}

// --- Owner ACE --------------------------------------------------------------

func (s *Store) UpdateOwnerACE(e OwnerACE) error {
	return s.putJSON(aceKey(tableOwnerACE, e.UID, e.Domain, e.InterfaceName, e.Operation), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.ownerACE = append(b.ownerACE, e)
		}
	})
}

func (s *Store) RemoveOwnerACE(uid, domain, iface, op string) error {
	return s.delete(aceKey(tableOwnerACE, uid, domain, iface, op))
}

func (s *Store) GetOwnerACE(uid, domain, iface, op string) (*OwnerACE, error) {
	var out OwnerACE
	ok, err := s.getFirst(&out, []string{
		aceKey(tableOwnerACE, uid, domain, iface, op),
		aceKey(tableOwnerACE, uid, domain, iface, messaging.Wildcard),
		aceKey(tableOwnerACE, messaging.Wildcard, domain, iface, op),
		aceKey(tableOwnerACE, messaging.Wildcard, domain, iface, messaging.Wildcard),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardOwnerACE(domain, uid, iface, op), nil
}

// --- Master/Mediator/Owner RCE (no operation field) ------------------------

func (s *Store) UpdateMasterRCE(e MasterRCE) error {
	return s.putJSON(rceKey(tableMasterRCE, e.UID, e.Domain, e.InterfaceName), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.masterRCE = append(b.masterRCE, e)
		}
	})
}

func (s *Store) RemoveMasterRCE(uid, domain, iface string) error {
	return s.delete(rceKey(tableMasterRCE, uid, domain, iface))
}

func (s *Store) GetMasterRCE(uid, domain, iface string) (*MasterRCE, error) {
	var out MasterRCE
	ok, err := s.getFirst(&out, []string{
		rceKey(tableMasterRCE, uid, domain, iface),
		rceKey(tableMasterRCE, messaging.Wildcard, domain, iface),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardMasterRCE(domain, uid, iface), nil
}

func (s *Store) UpdateMediatorRCE(e MediatorRCE) error {
	return s.putJSON(rceKey(tableMediatorRCE, e.UID, e.Domain, e.InterfaceName), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.mediatorRCE = append(b.mediatorRCE, e)
		}
	})
}

func (s *Store) RemoveMediatorRCE(uid, domain, iface string) error {
	return s.delete(rceKey(tableMediatorRCE, uid, domain, iface))
}

func (s *Store) GetMediatorRCE(uid, domain, iface string) (*MediatorRCE, error) {
	var out MediatorRCE
	ok, err := s.getFirst(&out, []string{
		rceKey(tableMediatorRCE, uid, domain, iface),
		rceKey(tableMediatorRCE, messaging.Wildcard, domain, iface),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardMediatorRCE(domain, uid, iface), nil
}

func (s *Store) UpdateOwnerRCE(e OwnerRCE) error {
	return s.putJSON(rceKey(tableOwnerRCE, e.UID, e.Domain, e.InterfaceName), e, func() {
		if prefix, ok := isWildcardSuffix(e.Domain); ok {
			b := s.rtx.insert(prefix)
			b.ownerRCE = append(b.ownerRCE, e)
		}
	})
}

func (s *Store) RemoveOwnerRCE(uid, domain, iface string) error {
	return s.delete(rceKey(tableOwnerRCE, uid, domain, iface))
}

func (s *Store) GetOwnerRCE(uid, domain, iface string) (*OwnerRCE, error) {
	var out OwnerRCE
	ok, err := s.getFirst(&out, []string{
		rceKey(tableOwnerRCE, uid, domain, iface),
		rceKey(tableOwnerRCE, messaging.Wildcard, domain, iface),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &out, nil
	}
	return s.wildcardOwnerRCE(domain, uid, iface), nil
}

// --- Domain Role Entries ----------------------------------------------------

func (s *Store) UpdateDomainRole(e DomainRoleEntry) error {
	return s.putJSON(dreKey(e.UID, e.Role), e, nil)
}

func (s *Store) RemoveDomainRole(uid string, role messaging.Role) error {
	return s.delete(dreKey(uid, role))
}

func (s *Store) GetDomainRole(uid string, role messaging.Role) (*DomainRoleEntry, error) {
	var out DomainRoleEntry
	ok, err := s.getFirst(&out, []string{dreKey(uid, role)})
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// HasRole reports whether uid holds role over domain, per the DRE table.
func (s *Store) HasRole(uid, domain string, role messaging.Role) (bool, error) {
	dre, err := s.GetDomainRole(uid, role)
	if err != nil || dre == nil {
		return false, err
	}
	for _, d := range dre.Domains {
		if d == domain || d == messaging.Wildcard {
			return true, nil
		}
	}
	return false, nil
}

// OnlyWildcardOperations reports whether every ACE matching (uid, domain,
// interfaceName) across the three ACE tables has operation "*", or none
// exist at all.
func (s *Store) OnlyWildcardOperations(uid, domain, iface string) (bool, error) {
	ops := map[string]struct{}{}
	for _, table := range []string{tableMasterACE, tableMediatorACE, tableOwnerACE} {
		pattern := table + recordSeparator + domain + recordSeparator + iface + recordSeparator + "*"
		err := s.db.View(func(tx *buntdb.Tx) error {
			return tx.AscendKeys(pattern, func(key, value string) bool {
				// the key's tail carries uid then operation; pull both
				// straight from the key so a matching scan never needs to
				// decode the JSON value at all.
				op, u := extractOpAndUID(table, key)
				if u != uid && u != messaging.Wildcard {
					return true
				}
				ops[op] = struct{}{}
				return true
			})
		})
		if err != nil {
			return false, errors.Wrap(err, "accessstore: scan for onlyWildcardOperations")
		}
	}
	if len(ops) == 0 {
		return true, nil
	}
	if len(ops) == 1 {
		_, only := ops[messaging.Wildcard]
		return only, nil
	}
	return false, nil
}

func extractOpAndUID(table, key string) (op, uid string) {
	rest := key[len(table)+len(recordSeparator):]
	// rest = domain \x1e iface \x1e uid \x1e op
	parts := splitN(rest, recordSeparator, 4)
	if len(parts) != 4 {
		return "", ""
	}
	return parts[3], parts[2]
}

func splitN(s, sep string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		idx := indexOf(s, sep)
		if idx < 0 {
			out = append(out, s)
			return out
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
	}
	out = append(out, s)
	return out
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Merge unions other into s table-by-table; conflicting primary keys are
// replaced by other's value. Failure of any table merge aborts the whole
// operation, leaving s unmodified from the caller's point of view only up
// to the point of failure (matching the specification's "abort the whole
// operation" wording, which does not mandate transactional rollback of
// prior tables).
func (s *Store) Merge(other *Store) error {
	var outerErr error
	other.db.View(func(otx *buntdb.Tx) error {
		return otx.Ascend("", func(key, value string) bool {
			if err := s.db.Update(func(tx *buntdb.Tx) error {
				_, _, err := tx.Set(key, value, nil)
				return err
			}); err != nil {
				outerErr = errors.Wrapf(err, "accessstore: merge key %s", key)
				return false
			}
			return true
		})
	})
	if outerErr != nil {
		return outerErr
	}
	other.rtx.walk(func(prefix string, b *wildcardBucket) {
		nb := s.rtx.insert(prefix)
		nb.masterACE = append(nb.masterACE, b.masterACE...)
		nb.mediatorACE = append(nb.mediatorACE, b.mediatorACE...)
		nb.ownerACE = append(nb.ownerACE, b.ownerACE...)
		nb.masterRCE = append(nb.masterRCE, b.masterRCE...)
		nb.mediatorRCE = append(nb.mediatorRCE, b.mediatorRCE...)
		nb.ownerRCE = append(nb.ownerRCE, b.ownerRCE...)
	})
	return nil
}

func (s *Store) putJSON(key string, v interface{}, onWildcard func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "accessstore: marshal entry")
	}
	if err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(body), nil)
		return err
	}); err != nil {
		return errors.Wrap(err, "accessstore: write entry")
	}
	if onWildcard != nil {
		onWildcard()
	}
	metrics.AccessStoreMutations.WithLabelValues(keyTable(key), "put").Inc()
	return s.snapshot()
}

func (s *Store) delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, "accessstore: delete entry")
	}
	metrics.AccessStoreMutations.WithLabelValues(keyTable(key), "delete").Inc()
	return s.snapshot()
}

// keyTable extracts the table-name prefix of a composite key for metric
// labeling.
func keyTable(key string) string {
	if i := strings.Index(key, recordSeparator); i >= 0 {
		return key[:i]
	}
	return key
}

func (s *Store) getFirst(out interface{}, keys []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found string
	err := s.db.View(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			v, err := tx.Get(k)
			if err == nil {
				found = v
				return nil
			}
			if err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "accessstore: lookup entry")
	}
	if found == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(found), out); err != nil {
		return false, errors.Wrap(err, "accessstore: decode entry")
	}
	return true, nil
}

