package mappings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"circuitmap/internal/fileutil"
	"circuitmap/internal/logging"
	"circuitmap/internal/services"
)

// Store is the persistent circuit name to OSM element mapping. Every
// mutation re-reads the file, applies the change, and rewrites the whole
// file atomically while holding an advisory lock on "<path>.lock", so
// several processes sharing one file serialize their writes.
type Store struct {
	path   string
	logger *slog.Logger
	lock   *flock.Flock
	now    func() time.Time

	mu       sync.RWMutex
	schema   Schema
	circuits map[string]Record
	// unreadable holds records that could not be decoded without losing an
	// operator decision. They are written back verbatim and never replaced
	// by automated writes.
	unreadable map[string]json.RawMessage
	extra      map[string]json.RawMessage
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for VerifiedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open loads the store at path. A missing file is created with the schema
// header. A corrupt file is moved aside to "<path>.corrupt" and the store
// starts empty; the returned error is nil in both cases. Errors are returned
// only when the directory or lock file cannot be used.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("mappings: store path required")
	}
	s := &Store{
		path:     path,
		logger:   logging.NewComponentLogger(logger, "mappings"),
		lock:     flock.New(path + ".lock"),
		now:      time.Now,
		schema:   DefaultSchema(),
		circuits: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mappings: create directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("mappings: acquire lock: %w", err)
	}
	defer s.unlock()

	exists, err := s.load()
	switch {
	case errors.Is(err, services.ErrStoreCorrupt):
		s.quarantine(err, "all circuits will be re-resolved")
	case err != nil:
		return nil, err
	case !exists:
		if err := s.save(); err != nil {
			logging.WarnWithContext(s.logger, "failed to create mapping store", "mappings_create_failed",
				logging.String("path", s.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check write permissions for the mappings file directory"),
				logging.String(logging.FieldImpact, "store will be created on the first successful write"))
		}
	}
	return s, nil
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Schema returns the merged schema header.
func (s *Store) Schema() Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.schema
	out.Fields = make(map[string]string, len(s.schema.Fields))
	for k, v := range s.schema.Fields {
		out.Fields[k] = v
	}
	return out
}

// Get returns the record stored for name.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.circuits[name]
	return rec, ok
}

// Unreadable returns the names of records kept verbatim because they could
// not be decoded safely, sorted.
func (s *Store) Unreadable() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.unreadable))
	for name := range s.unreadable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set writes an automated resolution for name. It returns false without
// error when the existing record is manual or unreadable. An update without
// an OSM ID is stored as manual with a TODO comment so an operator reviews
// it.
func (s *Store) Set(name string, update Update) (bool, error) {
	written := false
	err := s.mutate("set", func(circuits map[string]Record) bool {
		if existing, ok := circuits[name]; ok && existing.Manual {
			return false
		}
		if _, ok := s.unreadable[name]; ok {
			return false
		}
		circuits[name] = update.record(s.now())
		written = true
		return true
	})
	if err != nil {
		return false, err
	}
	if !written {
		s.logger.Debug("manual mapping left untouched", logging.String(logging.FieldCircuit, name))
	}
	return written, nil
}

// UpdateVersion records the OSM element version seen at export time. It
// applies to manual records as well, since it does not change the mapping.
// Unknown names are ignored.
func (s *Store) UpdateVersion(name string, version int) error {
	return s.mutate("update version", func(circuits map[string]Record) bool {
		rec, ok := circuits[name]
		if !ok {
			return false
		}
		v := version
		rec.OSMVersion = &v
		circuits[name] = rec
		return true
	})
}

// Pin stores an operator-provided record, marking it manual.
func (s *Store) Pin(name string, rec Record) error {
	if strings.TrimSpace(name) == "" {
		return services.Wrap(services.ErrValidation, "mappings", "pin", "circuit name required", nil)
	}
	rec.Manual = true
	if rec.VerifiedAt == "" {
		rec.VerifiedAt = s.now().Format(TimestampLayout)
	}
	if rec.SearchMethod == nil {
		rec.SearchMethod = optionalString(MethodManual)
	}
	if rec.OSMID == nil {
		rec.OSMType = nil
		rec.OSMVersion = nil
	}
	return s.mutate("pin", func(circuits map[string]Record) bool {
		delete(s.unreadable, name)
		circuits[name] = rec
		return true
	})
}

// Remove deletes the record for name.
func (s *Store) Remove(name string) error {
	found := false
	err := s.mutate("remove", func(circuits map[string]Record) bool {
		_, inCircuits := circuits[name]
		_, inUnreadable := s.unreadable[name]
		found = inCircuits || inUnreadable
		delete(circuits, name)
		delete(s.unreadable, name)
		return found
	})
	if err != nil {
		return err
	}
	if !found {
		return services.Wrap(services.ErrValidation, "mappings", "remove", fmt.Sprintf("circuit %q not found", name), nil)
	}
	return nil
}

// Stats returns the number of manual and automatic records.
func (s *Store) Stats() (manual, auto int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.circuits {
		if rec.Manual {
			manual++
		}
	}
	return manual, len(s.circuits) - manual
}

// List returns every record sorted by circuit name.
func (s *Store) List() []NamedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NamedRecord, 0, len(s.circuits))
	for name, rec := range s.circuits {
		out = append(out, NamedRecord{Name: name, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mutate runs fn against the freshest on-disk state under both the process
// mutex and the file lock. fn returns whether it changed anything.
func (s *Store) mutate(operation string, fn func(map[string]Record) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return services.Wrap(services.ErrStoreWriteFailed, "mappings", operation, "acquire lock", err)
	}
	defer s.unlock()

	if _, err := s.load(); errors.Is(err, services.ErrStoreCorrupt) {
		s.quarantine(err, "the file is rewritten from in-memory records")
	} else if err != nil {
		logging.WarnWithContext(s.logger, "failed to reload mapping store; using in-memory state", "mappings_reload_failed",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the mappings file for hand-edit mistakes"),
			logging.String(logging.FieldImpact, "the next write replaces the file with in-memory records"))
	}
	if !fn(s.circuits) {
		return nil
	}
	if err := s.save(); err != nil {
		return services.Wrap(services.ErrStoreWriteFailed, "mappings", operation, s.path, err)
	}
	return nil
}

func (s *Store) unlock() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release mappings lock", logging.Error(err))
	}
}

// load replaces the in-memory state with the file contents. It reports
// whether the file existed. Decode failures are tagged ErrStoreCorrupt and
// leave the in-memory state untouched. Callers hold s.mu or have exclusive
// access.
func (s *Store) load() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read mappings file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true, services.Wrap(services.ErrStoreCorrupt, "mappings", "load", "file is empty", nil)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return true, services.Wrap(services.ErrStoreCorrupt, "mappings", "load", "parse file", err)
	}

	var loaded Schema
	if raw, ok := top["_schema"]; ok {
		if err := json.Unmarshal(raw, &loaded); err != nil {
			s.logger.Debug("ignoring malformed schema header", logging.Error(err))
		}
	}

	circuits := make(map[string]Record)
	unreadable := make(map[string]json.RawMessage)
	if raw, ok := top["circuits"]; ok && string(raw) != "null" {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return true, services.Wrap(services.ErrStoreCorrupt, "mappings", "load", "parse circuits", err)
		}
		for name, entry := range entries {
			rec, defaulted, err := decodeRecord(entry)
			if err != nil {
				logging.WarnWithContext(s.logger, "keeping unreadable mapping record as is", "mappings_record_unreadable",
					logging.String(logging.FieldCircuit, name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the record by hand or pin it with 'mappings set'"),
					logging.String(logging.FieldImpact, "circuit is not resolved automatically until fixed"))
				unreadable[name] = entry
				continue
			}
			if len(defaulted) > 0 {
				logging.WarnWithContext(s.logger, "reset malformed mapping fields", "mappings_record_invalid",
					logging.String(logging.FieldCircuit, name),
					logging.String("fields", strings.Join(defaulted, ",")),
					logging.String(logging.FieldErrorHint, "field types must match the schema"),
					logging.String(logging.FieldImpact, "listed fields are dropped on the next write"))
			}
			circuits[name] = rec
		}
	}

	extra := make(map[string]json.RawMessage)
	for key, raw := range top {
		if key != "_schema" && key != "circuits" {
			extra[key] = raw
		}
	}

	s.schema = mergeSchema(loaded)
	s.circuits = circuits
	s.unreadable = unreadable
	s.extra = extra
	s.logger.Debug("loaded mapping store",
		logging.Int("circuit_count", len(circuits)),
		logging.String("path", s.path))
	return true, nil
}

func (s *Store) save() error {
	doc := make(map[string]any, len(s.extra)+2)
	for key, raw := range s.extra {
		doc[key] = raw
	}
	circuits := make(map[string]any, len(s.circuits)+len(s.unreadable))
	for name, raw := range s.unreadable {
		circuits[name] = raw
	}
	for name, rec := range s.circuits {
		circuits[name] = rec
	}
	doc["_schema"] = s.schema
	doc["circuits"] = circuits
	return fileutil.WriteJSONAtomic(s.path, doc)
}

// quarantine moves the corrupt file to "<path>.corrupt" so the next save
// does not destroy the operator's copy.
func (s *Store) quarantine(cause error, impact string) {
	backup := s.path + ".corrupt"
	hint := "restore the file from " + backup + " or fix it by hand"
	if err := os.Rename(s.path, backup); err != nil {
		backup = ""
		hint = "fix or delete the mappings file by hand"
	}
	logging.WarnWithContext(s.logger, "mapping store is corrupt", "mappings_corrupt",
		logging.String("path", s.path),
		logging.String("backup", backup),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, impact))
}
