package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/FunnelPipe/internal/models"
)

func TestStageString(t *testing.T) {
	want := map[Stage]string{
		StageInitial:           "INITIAL",
		StageAwaitingLanguage:  "AWAITING_LANGUAGE",
		StageDeliveringContent: "DELIVERING_CONTENT",
		StageAwaitingDemo:      "AWAITING_DEMO",
		StageCompleted:         "COMPLETED",
	}
	for stage, name := range want {
		if stage.String() != name {
			t.Errorf("Stage(%d).String() = %q, want %q", int(stage), stage.String(), name)
		}
	}
}

func TestSessionRequiresLanguage(t *testing.T) {
	s := newSession("a", 1, epoch)
	if _, err := s.to(StageAwaitingDemo, epoch); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected AWAITING_DEMO without language to fail, got %v", err)
	}
	if _, err := s.withLanguage(models.Language("fr"), epoch); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected unknown language to fail, got %v", err)
	}

	next, err := s.withLanguage(models.LanguageHindi, epoch)
	if err != nil {
		t.Fatalf("withLanguage: %v", err)
	}
	if next.Stage != StageDeliveringContent || next.Language != models.LanguageHindi {
		t.Errorf("unexpected session: %+v", next)
	}
	if s.Stage != StageAwaitingLanguage {
		t.Error("transition mutated the original session")
	}
	if _, err := next.withLanguage(models.LanguageEnglish, epoch); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected second language choice to fail, got %v", err)
	}
}

func TestSessionStoreSynthesizesInitial(t *testing.T) {
	st := NewSessionStore()
	if got := st.Get("x"); got.Stage != StageInitial || got.ContactID != "x" {
		t.Errorf("unexpected synthesized session: %+v", got)
	}
	st.Put(newSession("x", 1, epoch))
	st.Put(newSession("a", 2, epoch))
	if list := st.List(); len(list) != 2 || list[0].ContactID != "a" {
		t.Errorf("unexpected list: %+v", list)
	}
	if !st.Delete("x") || st.Delete("x") {
		t.Error("unexpected Delete results")
	}
}
