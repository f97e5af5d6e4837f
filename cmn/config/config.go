// Package config holds the cluster controller's process configuration:
// defaults, load/reload, and a hot-swappable global owner every other
// package reads through.
package config

import (
	"time"

	"github.com/joynr-go/clustercontroller/cmn/jsp"
)

// Config collects every tunable the core packages consult. Naming
// convention for JSON keys is the struct field name in lower camel case, the
// same convention the configuration carried across this codebase's other
// persisted types.
type Config struct {
	// TTLUpliftMs is added to the publication manager's expiry-relative
	// deadlines (admission check, subscription cleanup scheduling) to
	// avoid rejecting in-flight work as stale.
	TTLUpliftMs int64 `json:"ttlUpliftMs"`

	// SnapshotPath is where the access store persists its on-disk
	// snapshot. Empty disables persistence.
	SnapshotPath string `json:"snapshotPath"`

	// SnapshotDebounceMs is loaded and saved with the configuration, but
	// the access store does not read it: it writes a snapshot after every
	// mutation.
	SnapshotDebounceMs int64 `json:"snapshotDebounceMs"`

	// ConsumerWhitelist lists recipient participant ids exempt from any
	// consumer permission check.
	ConsumerWhitelist []string `json:"consumerWhitelist"`

	// PublicationWorkers sizes the publication manager's scheduler
	// worker pool.
	PublicationWorkers int `json:"publicationWorkers"`

	// LocalOnly disables LDAC backend fetch/subscribe entirely, assuming
	// the access store is already fully provisioned (used in standalone
	// or test deployments).
	LocalOnly bool `json:"localOnly"`
}

// JspOpts satisfies cmn/jsp.Opts: configuration is saved uncompressed and
// indented so it stays human-editable, with no checksum header since it
// is meant to be hand-edited and reloaded, not integrity-checked like the
// access-store snapshot.
func (*Config) JspOpts() jsp.Options { return jsp.Options{Indent: true} }

// TTLUplift returns TTLUpliftMs as a time.Duration.
func (c *Config) TTLUplift() time.Duration {
	return time.Duration(c.TTLUpliftMs) * time.Millisecond
}

// SnapshotDebounce returns SnapshotDebounceMs as a time.Duration.
func (c *Config) SnapshotDebounce() time.Duration {
	return time.Duration(c.SnapshotDebounceMs) * time.Millisecond
}

// Default returns the built-in configuration used when no file is loaded.
func Default() *Config {
	return &Config{
		TTLUpliftMs:        10_000,
		SnapshotDebounceMs: 1_000,
		PublicationWorkers: 4,
	}
}
