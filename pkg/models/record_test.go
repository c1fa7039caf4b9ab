package models

import (
	"errors"
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Cosmic Ape #12", "cosmic-ape-12"},
		{"  Trailing  ", "trailing"},
		{"UPPER_case", "upper-case"},
		{"---", ""},
		{"a--b", "a-b"},
		{"émoji🚀name", "moji-name"},
	}
	for _, tc := range cases {
		if got := Slug(tc.name); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRecordKey(t *testing.T) {
	r := &Record{ID: "tok-7", Name: "Cosmic Ape"}
	if got := r.Key(); got != "tok-7" {
		t.Errorf("expected explicit id to win, got %q", got)
	}

	r = &Record{Name: "Cosmic Ape #12"}
	if got := r.Key(); got != "cosmic-ape-12" {
		t.Errorf("expected slug key, got %q", got)
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"upload", "LIST", " upload-and-list ", "Delete"} {
		if _, err := ParseAction(s); err != nil {
			t.Errorf("ParseAction(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseAction("mint"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  *Record
		action  Action
		missing []string
	}{
		{
			name:   "upload needs assets",
			record: &Record{Name: "a"},
			action: ActionUpload,
			missing: []string{
				"asset_files",
			},
		},
		{
			name:    "list needs price",
			record:  &Record{Name: "a"},
			action:  ActionList,
			missing: []string{"price"},
		},
		{
			name:    "upload-and-list needs both",
			record:  &Record{Name: "a"},
			action:  ActionUploadAndList,
			missing: []string{"asset_files", "price"},
		},
		{
			name:   "delete needs only identity",
			record: &Record{Name: "a"},
			action: ActionDelete,
		},
		{
			name:    "negative supply rejected",
			record:  &Record{Name: "a", AssetFiles: []string{"x.png"}, Supply: -1},
			action:  ActionUpload,
			missing: []string{"supply (must be >= 0)"},
		},
		{
			name:   "complete record passes",
			record: &Record{Name: "a", AssetFiles: []string{"x.png"}, Price: 0.5},
			action: ActionUploadAndList,
		},
		{
			name:    "record action overrides run action",
			record:  &Record{Name: "a", Action: ActionList},
			action:  ActionDelete,
			missing: []string{"price"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate(tt.action)
			if len(tt.missing) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Missing) != len(tt.missing) {
				t.Fatalf("missing = %v, want %v", verr.Missing, tt.missing)
			}
			for i, m := range tt.missing {
				if verr.Missing[i] != m {
					t.Errorf("missing[%d] = %q, want %q", i, verr.Missing[i], m)
				}
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Key: "x", Missing: []string{"price", "asset_files"}}
	if !strings.Contains(err.Error(), "price, asset_files") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestNewRecordSetRejectsDuplicates(t *testing.T) {
	records := []*Record{
		{ID: "a"},
		{Name: "Item One"},
		{ID: "a"},
	}
	if _, err := NewRecordSet(records); err == nil {
		t.Fatal("expected duplicate key error")
	}

	records = []*Record{
		{ID: "item-one"},
		{Name: "Item One"}, // slugs to item-one
	}
	if _, err := NewRecordSet(records); err == nil {
		t.Fatal("expected collision between id and slug")
	}
}

func TestNewRecordSetRejectsEmptyIdentity(t *testing.T) {
	if _, err := NewRecordSet([]*Record{{Name: "  "}}); err == nil {
		t.Fatal("expected error for record with no identity")
	}
}

func TestRecordSetOrder(t *testing.T) {
	records := []*Record{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	set, err := NewRecordSet(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys := set.Keys()
	want := []string{"c", "a", "b"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q (input order must be preserved)", i, keys[i], want[i])
		}
	}
	if set.Lookup("a") == nil {
		t.Error("Lookup(a) returned nil")
	}
	if set.Lookup("zzz") != nil {
		t.Error("Lookup of unknown key should return nil")
	}
}
