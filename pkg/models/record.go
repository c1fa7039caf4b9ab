package models

import (
	"fmt"
	"strings"
)

// Action identifies which marketplace operation a record asks for
type Action string

const (
	ActionUpload        Action = "upload"
	ActionList          Action = "list"
	ActionUploadAndList Action = "upload-and-list"
	ActionDelete        Action = "delete"
)

// ParseAction validates an action string from config or a record
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionUpload:
		return ActionUpload, nil
	case ActionList:
		return ActionList, nil
	case ActionUploadAndList:
		return ActionUploadAndList, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q (expected upload, list, upload-and-list or delete)", s)
	}
}

// PropertyKind marks how a trait value should be interpreted by the marketplace
type PropertyKind string

const (
	PropertyText    PropertyKind = "text"
	PropertyNumber  PropertyKind = "number"
	PropertyBoolean PropertyKind = "boolean"
)

// Property is one trait-name/trait-value pair. Order matters and is preserved
// from the input file.
type Property struct {
	Name  string       `json:"name" yaml:"name"`
	Value string       `json:"value" yaml:"value"`
	Kind  PropertyKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Record is one asset to process. Immutable after load.
type Record struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	AssetFiles  []string   `json:"asset_files,omitempty" yaml:"asset_files,omitempty"`
	Chain       string     `json:"chain,omitempty" yaml:"chain,omitempty"`
	Collection  string     `json:"collection,omitempty" yaml:"collection,omitempty"`
	Properties  []Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Price       float64    `json:"price,omitempty" yaml:"price,omitempty"`
	Currency    string     `json:"currency,omitempty" yaml:"currency,omitempty"`
	Supply      int        `json:"supply,omitempty" yaml:"supply,omitempty"`
	Action      Action     `json:"action,omitempty" yaml:"action,omitempty"`
}

// Key returns the stable identity key for the record: the explicit ID when
// present, otherwise a slug derived from the display name.
func (r *Record) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return Slug(r.Name)
}

// Slug normalizes a display name into an identity key
func Slug(name string) string {
	var b strings.Builder
	lastDash := true // trim leading dashes
	for _, c := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ValidationError reports the attributes a record is missing for the
// requested action. Records failing validation never enter processing.
type ValidationError struct {
	Key     string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q is missing required attributes for its action: %s",
		e.Key, strings.Join(e.Missing, ", "))
}

// Validate checks that the record carries everything the action needs.
// The per-record action flag overrides the run-level action when set.
func (r *Record) Validate(runAction Action) error {
	action := r.EffectiveAction(runAction)
	var missing []string

	if r.ID == "" && strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name or id")
	}

	switch action {
	case ActionUpload:
		if len(r.AssetFiles) == 0 {
			missing = append(missing, "asset_files")
		}
	case ActionList:
		if r.Price <= 0 {
			missing = append(missing, "price")
		}
	case ActionUploadAndList:
		if len(r.AssetFiles) == 0 {
			missing = append(missing, "asset_files")
		}
		if r.Price <= 0 {
			missing = append(missing, "price")
		}
	case ActionDelete:
		// identity is enough
	default:
		return fmt.Errorf("record %q: unknown action %q", r.Key(), action)
	}

	if r.Supply < 0 {
		missing = append(missing, "supply (must be >= 0)")
	}

	if len(missing) > 0 {
		return &ValidationError{Key: r.Key(), Missing: missing}
	}
	return nil
}

// EffectiveAction resolves the action for this record given the run default
func (r *Record) EffectiveAction(runAction Action) Action {
	if r.Action != "" {
		return r.Action
	}
	return runAction
}

// RecordSet is an ordered sequence of records. Order is preserved across
// load, shard and resume so that remaining work is deterministic.
type RecordSet struct {
	Records []*Record
}

// NewRecordSet builds a set and rejects duplicate identity keys
func NewRecordSet(records []*Record) (*RecordSet, error) {
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		key := rec.Key()
		if key == "" {
			return nil, fmt.Errorf("record %d has no identity (empty id and name)", i)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("duplicate identity key %q (records %d and %d)", key, prev, i)
		}
		seen[key] = i
	}
	return &RecordSet{Records: records}, nil
}

// Len returns the number of records in the set
func (s *RecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Keys returns identity keys in set order
func (s *RecordSet) Keys() []string {
	keys := make([]string, 0, s.Len())
	for _, rec := range s.Records {
		keys = append(keys, rec.Key())
	}
	return keys
}

// Lookup returns the record with the given identity key, or nil
func (s *RecordSet) Lookup(key string) *Record {
	for _, rec := range s.Records {
		if rec.Key() == key {
			return rec
		}
	}
	return nil
}
