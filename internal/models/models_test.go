package models

import (
	"testing"
	"time"
)

func TestNormalizeContactID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"919876543210@s.whatsapp.net", "919876543210"},
		{"919876543210:12@s.whatsapp.net", "919876543210"},
		{"whatsapp:+919876543210", "919876543210"},
		{"+91 98765-43210", "919876543210"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeContactID(tt.in); got != tt.want {
			t.Errorf("NormalizeContactID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContactPatchApply(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var c Contact
	lang := LanguageHindi
	yes := true
	name := "Riya"
	ContactPatch{Name: &name, Language: &lang, DemoRequested: &yes, SeenAt: &now, CountMessage: true}.Apply(&c, now)

	if c.Name != "Riya" || c.Language != LanguageHindi || !c.DemoRequested {
		t.Fatalf("patch fields not applied: %+v", c)
	}
	if c.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", c.MessageCount)
	}
	if !c.FirstSeen.Equal(now) || c.LastSeen == nil || !c.LastSeen.Equal(now) {
		t.Errorf("timestamps not set: %+v", c)
	}

	// Unset fields must not clobber existing values.
	later := now.Add(time.Minute)
	ContactPatch{}.Apply(&c, later)
	if c.Name != "Riya" || c.Language != LanguageHindi || !c.DemoRequested {
		t.Errorf("empty patch changed contact: %+v", c)
	}
	if !c.FirstSeen.Equal(now) || !c.UpdatedAt.Equal(later) {
		t.Errorf("unexpected timestamps after empty patch: %+v", c)
	}
}

func TestLanguageIsValid(t *testing.T) {
	if !LanguageEnglish.IsValid() || !LanguageHindi.IsValid() {
		t.Error("expected en and hi to be valid")
	}
	if LanguageUnset.IsValid() || Language("fr").IsValid() {
		t.Error("expected unset and unknown languages to be invalid")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"a": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}
	e := Error("boom")
	if e.Status != string(APIStatusError) || e.Message != "boom" || e.Result != nil {
		t.Errorf("unexpected error response: %+v", e)
	}
	m := SuccessWithMessage("done", nil)
	if m.Message != "done" || m.Status != string(APIStatusOK) {
		t.Errorf("unexpected message response: %+v", m)
	}
}
