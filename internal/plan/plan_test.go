package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestPlan(t *testing.T) *Plan {
	t.Helper()
	p, err := Create("Add caching", "Add a read-through cache", filepath.Join(t.TempDir(), "plan"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func TestPhaseAdvancesForwardOnly(t *testing.T) {
	p := newTestPlan(t)
	want := []Phase{PhaseDesign, PhaseReview, PhaseFinal, PhaseReadyToExecute}
	for _, phase := range want {
		if err := p.AdvancePhase(); err != nil {
			t.Fatalf("advance: %v", err)
		}
		if p.Phase != phase {
			t.Fatalf("phase = %s, want %s", p.Phase, phase)
		}
	}
	// at the end, advancing is a no-op
	if err := p.AdvancePhase(); err != nil {
		t.Fatalf("advance at end: %v", err)
	}
	if p.Phase != PhaseReadyToExecute {
		t.Fatalf("phase moved past the end: %s", p.Phase)
	}
}

func TestFinalize(t *testing.T) {
	p := newTestPlan(t)
	if err := p.Finalize(false); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.Phase != PhaseReview {
		t.Fatalf("incomplete finalize phase = %s, want review", p.Phase)
	}
	if err := p.Finalize(true); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.Phase != PhaseReadyToExecute {
		t.Fatalf("complete finalize phase = %s", p.Phase)
	}
}

func TestToTasksExcludesVerification(t *testing.T) {
	p := newTestPlan(t)
	steps := []Step{
		{Description: "Add cache interface", Files: []string{"cache.go"}},
		{Description: "Create store implementation", Complexity: "high"},
		{Description: "Polish naming"},
	}
	for _, s := range steps {
		if err := p.AddStep(s); err != nil {
			t.Fatalf("add step: %v", err)
		}
	}
	p.AddVerification("Run the full test suite")
	p.AddVerification("Check latency dashboards")

	specs := p.ToTasks()
	if len(specs) != len(steps) {
		t.Fatalf("projected %d tasks, want %d (verification must not project)", len(specs), len(steps))
	}
	for _, spec := range specs {
		if strings.Contains(spec.Content, "test suite") || strings.Contains(spec.Content, "dashboards") {
			t.Fatalf("verification step leaked into tasks: %q", spec.Content)
		}
	}
	if specs[1].Metadata["complexity"] != "high" {
		t.Fatalf("complexity metadata = %v", specs[1].Metadata["complexity"])
	}
}

func TestActiveFormHeuristics(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Add cache interface", "Adding cache interface"},
		{"Create store", "Creating store"},
		{"Update docs", "Updating docs"},
		{"Fix flaky test", "Fixing flaky test"},
		{"Implement retry", "Implementing retry"},
		{"Remove dead code", "Removing dead code"},
		{"Refactor loader", "Refactoring loader"},
		{"Polish naming", "Working on: Polish naming"},
		{"Delete old path", "Working on: Delete old path"},
	}
	for _, c := range cases {
		if got := activeForm(c.in); got != c.want {
			t.Fatalf("activeForm(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDefaultComplexity(t *testing.T) {
	p := newTestPlan(t)
	if err := p.AddStep(Step{Description: "Add thing"}); err != nil {
		t.Fatalf("add step: %v", err)
	}
	if p.Steps[0].Complexity != "medium" {
		t.Fatalf("default complexity = %q", p.Steps[0].Complexity)
	}
}

func TestCriticalFileDedup(t *testing.T) {
	p := newTestPlan(t)
	p.AddCriticalFile("main.go")
	p.AddCriticalFile("main.go")
	p.AddCriticalFile("util.go")
	if len(p.CriticalFiles) != 2 {
		t.Fatalf("critical files = %v", p.CriticalFiles)
	}
}

func TestPersistWritesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "plan")
	p, err := Create("T", "O", base)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.AddContext("uses modernc sqlite")
	p.AddQuestion("which eviction policy?")
	p.AnswerQuestion("which eviction policy?", "LRU")

	if _, err := os.Stat(base + ".json"); err != nil {
		t.Fatalf("json artifact missing: %v", err)
	}
	md, err := os.ReadFile(base + ".md")
	if err != nil {
		t.Fatalf("md artifact missing: %v", err)
	}
	if !strings.Contains(string(md), "uses modernc sqlite") || !strings.Contains(string(md), "**A:** LRU") {
		t.Fatalf("markdown rendering incomplete:\n%s", md)
	}

	loaded, err := Load(base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Title != "T" || loaded.QuestionsAnswered["which eviction policy?"] != "LRU" {
		t.Fatalf("loaded plan drifted: %+v", loaded)
	}
}

func TestLoadMissingPlan(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p != nil {
		t.Fatalf("missing plan should load as nil")
	}
}
