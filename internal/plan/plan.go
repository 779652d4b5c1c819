package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sidekick/internal/task"
)

// Phase 计划推进阶段，固定全序，只能前进
// Phase is the plan lifecycle position; the sequence is a fixed total
// order and only advances forward (or is set explicitly by Finalize).
type Phase string

const (
	PhaseUnderstanding  Phase = "initial_understanding"
	PhaseDesign         Phase = "design"
	PhaseReview         Phase = "review"
	PhaseFinal          Phase = "final_plan"
	PhaseReadyToExecute Phase = "ready_to_execute"
)

var phaseOrder = []Phase{
	PhaseUnderstanding,
	PhaseDesign,
	PhaseReview,
	PhaseFinal,
	PhaseReadyToExecute,
}

// Step is a single implementation step.
type Step struct {
	Description string   `json:"description"`
	Files       []string `json:"files_involved"`
	Complexity  string   `json:"estimated_complexity"`
	Notes       string   `json:"notes,omitempty"`
}

// Plan 结构化的分阶段计划文档，随探索逐步累积
// Plan is a structured, phase-tagged document accumulated incrementally
// during plan-mode exploration. Every mutation re-persists both a JSON
// snapshot and a Markdown rendering.
type Plan struct {
	Title     string `json:"title"`
	Objective string `json:"objective"`
	Phase     Phase  `json:"phase"`

	ContextGathered   []string          `json:"context_gathered"`
	QuestionsAsked    []string          `json:"questions_asked"`
	QuestionsAnswered map[string]string `json:"questions_answered"`

	Approach     string   `json:"approach"`
	Alternatives []string `json:"alternatives_considered"`
	Rationale    string   `json:"chosen_approach_rationale"`

	CriticalFiles []string `json:"critical_files"`
	Risks         []string `json:"potential_risks"`

	Steps             []Step   `json:"steps"`
	VerificationSteps []string `json:"verification_steps"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	persistPath string
}

// Create starts a fresh plan at the understanding phase and persists it.
// persistPath is an extensionless base path; .json and .md siblings are
// written next to it.
func Create(title, objective, persistPath string) (*Plan, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	p := &Plan{
		Title:             title,
		Objective:         objective,
		Phase:             PhaseUnderstanding,
		QuestionsAnswered: map[string]string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.SetPersistPath(persistPath); err != nil {
		return nil, err
	}
	if err := p.persist(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a plan from its JSON snapshot; a missing file yields nil.
func Load(persistPath string) (*Plan, error) {
	data, err := os.ReadFile(persistPath + ".json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if p.QuestionsAnswered == nil {
		p.QuestionsAnswered = map[string]string{}
	}
	if err := p.SetPersistPath(persistPath); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) SetPersistPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("plan persist path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}
	p.persistPath = path
	return nil
}

func (p *Plan) touch() {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// persist writes both artifacts: machine-readable JSON plus the
// human-readable Markdown rendering.
func (p *Plan) persist() error {
	if p.persistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(p.persistPath+".json", data, 0o644); err != nil {
		return fmt.Errorf("write plan json: %w", err)
	}
	if err := os.WriteFile(p.persistPath+".md", []byte(p.Markdown()), 0o644); err != nil {
		return fmt.Errorf("write plan markdown: %w", err)
	}
	return nil
}

// Save rewrites both persisted artifacts, used after a checkpoint
// rewind replaces the in-memory plan.
func (p *Plan) Save() error {
	return p.persist()
}

// AdvancePhase moves exactly one step forward in the phase order.
func (p *Plan) AdvancePhase() error {
	for i, ph := range phaseOrder {
		if ph == p.Phase {
			if i < len(phaseOrder)-1 {
				p.Phase = phaseOrder[i+1]
				p.touch()
				return p.persist()
			}
			return nil
		}
	}
	return fmt.Errorf("unknown plan phase: %s", p.Phase)
}

// Finalize sets the phase directly: ready_to_execute when the model
// signals the plan is complete, review otherwise. An empty plan may be
// finalized; it is degenerate but not an error.
func (p *Plan) Finalize(complete bool) error {
	if complete {
		p.Phase = PhaseReadyToExecute
	} else {
		p.Phase = PhaseReview
	}
	p.touch()
	return p.persist()
}

func (p *Plan) AddContext(context string) error {
	p.ContextGathered = append(p.ContextGathered, context)
	p.touch()
	return p.persist()
}

func (p *Plan) AddQuestion(question string) error {
	p.QuestionsAsked = append(p.QuestionsAsked, question)
	p.touch()
	return p.persist()
}

func (p *Plan) AnswerQuestion(question, answer string) error {
	p.QuestionsAnswered[question] = answer
	p.touch()
	return p.persist()
}

func (p *Plan) SetApproach(approach, rationale string) error {
	p.Approach = approach
	p.Rationale = rationale
	p.touch()
	return p.persist()
}

func (p *Plan) AddAlternative(alternative string) error {
	p.Alternatives = append(p.Alternatives, alternative)
	p.touch()
	return p.persist()
}

// AddCriticalFile records a file to be modified, deduplicated by value.
func (p *Plan) AddCriticalFile(path string) error {
	for _, f := range p.CriticalFiles {
		if f == path {
			return nil
		}
	}
	p.CriticalFiles = append(p.CriticalFiles, path)
	p.touch()
	return p.persist()
}

func (p *Plan) AddRisk(risk string) error {
	p.Risks = append(p.Risks, risk)
	p.touch()
	return p.persist()
}

func (p *Plan) AddStep(s Step) error {
	if s.Complexity == "" {
		s.Complexity = "medium"
	}
	p.Steps = append(p.Steps, s)
	p.touch()
	return p.persist()
}

func (p *Plan) AddVerification(v string) error {
	p.VerificationSteps = append(p.VerificationSteps, v)
	p.touch()
	return p.persist()
}

// activeFormPrefixes maps imperative step prefixes to their
// present-continuous forms for task projection.
var activeFormPrefixes = []struct {
	prefix string
	active string
}{
	{"Add", "Adding"},
	{"Create", "Creating"},
	{"Update", "Updating"},
	{"Fix", "Fixing"},
	{"Implement", "Implementing"},
	{"Remove", "Removing"},
	{"Refactor", "Refactoring"},
}

func activeForm(description string) string {
	for _, e := range activeFormPrefixes {
		if strings.HasPrefix(description, e.prefix) {
			return e.active + strings.TrimPrefix(description, e.prefix)
		}
	}
	return "Working on: " + description
}

// ToTasks 将计划步骤投射为任务；verification steps 需要人工判断，刻意不投射
// ToTasks projects implementation steps into task specs. Verification
// steps are deliberately excluded: they need human judgment and stay in
// the Markdown rendering for reference.
func (p *Plan) ToTasks() []task.Spec {
	specs := make([]task.Spec, 0, len(p.Steps))
	for _, s := range p.Steps {
		specs = append(specs, task.Spec{
			Content:    s.Description,
			ActiveForm: activeForm(s.Description),
			Metadata: map[string]any{
				"files":      s.Files,
				"complexity": s.Complexity,
			},
		})
	}
	return specs
}

// Markdown renders the human-readable plan document.
func (p *Plan) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "**Phase:** %s\n", p.Phase)
	fmt.Fprintf(&b, "**Created:** %s\n", p.CreatedAt)
	fmt.Fprintf(&b, "**Updated:** %s\n\n", p.UpdatedAt)
	fmt.Fprintf(&b, "## Objective\n%s\n", p.Objective)

	if len(p.ContextGathered) > 0 {
		b.WriteString("\n## Context Gathered\n\n")
		for _, c := range p.ContextGathered {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(p.QuestionsAsked) > 0 {
		b.WriteString("\n## Questions\n\n")
		for _, q := range p.QuestionsAsked {
			answer := p.QuestionsAnswered[q]
			if answer == "" {
				answer = "_Unanswered_"
			}
			fmt.Fprintf(&b, "**Q:** %s\n**A:** %s\n\n", q, answer)
		}
	}
	if p.Approach != "" {
		fmt.Fprintf(&b, "\n## Chosen Approach\n%s\n", p.Approach)
		if p.Rationale != "" {
			fmt.Fprintf(&b, "\n### Rationale\n%s\n", p.Rationale)
		}
	}
	if len(p.Alternatives) > 0 {
		b.WriteString("\n## Alternatives Considered\n\n")
		for _, a := range p.Alternatives {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(p.CriticalFiles) > 0 {
		b.WriteString("\n## Critical Files\n\n")
		for _, f := range p.CriticalFiles {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	if len(p.Risks) > 0 {
		b.WriteString("\n## Potential Risks\n\n")
		for _, r := range p.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(p.Steps) > 0 {
		b.WriteString("\n## Implementation Steps\n\n")
		for i, s := range p.Steps {
			fmt.Fprintf(&b, "### Step %d: %s\n", i+1, s.Description)
			if len(s.Files) > 0 {
				quoted := make([]string, 0, len(s.Files))
				for _, f := range s.Files {
					quoted = append(quoted, "`"+f+"`")
				}
				fmt.Fprintf(&b, "**Files:** %s\n", strings.Join(quoted, ", "))
			}
			fmt.Fprintf(&b, "**Complexity:** %s\n", s.Complexity)
			if s.Notes != "" {
				fmt.Fprintf(&b, "**Notes:** %s\n", s.Notes)
			}
			b.WriteString("\n")
		}
	}
	if len(p.VerificationSteps) > 0 {
		b.WriteString("\n## Verification\n\n")
		for _, v := range p.VerificationSteps {
			fmt.Fprintf(&b, "- [ ] %s\n", v)
		}
	}
	return b.String()
}
