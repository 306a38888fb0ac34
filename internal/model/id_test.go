package model

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	for _, idType := range []IDType{IDTypeJob, IDTypeCrew, IDTypeEvent} {
		id, err := GenerateID(idType)
		if err != nil {
			t.Fatalf("GenerateID(%q) error: %v", idType, err)
		}
		if !ValidateID(id) {
			t.Errorf("GenerateID(%q) produced invalid ID %q", idType, id)
		}
		if !strings.HasPrefix(id, string(idType)+"_") {
			t.Errorf("ID %q missing prefix %q", id, idType)
		}
	}
}

func TestGenerateIDInvalidType(t *testing.T) {
	if _, err := GenerateID("bogus"); err == nil {
		t.Error("GenerateID with invalid type should fail")
	}
}

func TestParseIDType(t *testing.T) {
	id, err := GenerateID(IDTypeJob)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseIDType(id)
	if err != nil {
		t.Fatalf("ParseIDType(%q) error: %v", id, err)
	}
	if got != IDTypeJob {
		t.Errorf("ParseIDType(%q) = %q, want %q", id, got, IDTypeJob)
	}
	if _, err := ParseIDType("not-an-id"); err == nil {
		t.Error("ParseIDType should reject malformed ids")
	}
}

func TestParseIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id, err := GenerateID(IDTypeJob)
	if err != nil {
		t.Fatal(err)
	}
	ts, err := ParseIDTimestamp(id)
	if err != nil {
		t.Fatalf("ParseIDTimestamp(%q) error: %v", id, err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("parsed timestamp %v out of range", ts)
	}
}
