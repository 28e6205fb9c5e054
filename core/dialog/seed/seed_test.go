package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/storage/memory"
)

const doc = `
flows:
  - name: Support
    default: true
    steps:
      - key: name
        question: What's your name?
        required: true
        config:
          saveAs: user_name
      - key: topic
        question: Pick a topic
        type: callback
        options:
          - label: Billing
            value: billing
            next: done
          - label: Other
      - key: details
        question: Tell us more
      - key: done
        question: Thanks {{user_name}}!
        type: final
commands:
  - pattern: /start
    action:
      type: startFlow
      flow: Support
  - pattern: /join
    response: Want to talk to us?
    action:
      type: sendFlowInvitation
      flow: Support
      button_text: Sure
  - pattern: help
    match: contains
    priority: 5
    response: Type /start to begin.
`

func TestSeedResolvesReferences(t *testing.T) {
	f, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := memory.New()
	ctx := context.Background()
	if err := (Seeder{File: f}).Seed(ctx, st.Set()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	flows, _ := st.Flows.List(ctx, true)
	if len(flows) != 1 || !flows[0].IsDefault {
		t.Fatalf("flows = %+v", flows)
	}
	steps, _ := st.Steps.ListByFlow(ctx, flows[0].ID)
	if len(steps) != 4 {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[0].Config.SaveAs != "user_name" || !steps[0].IsRequired {
		t.Fatalf("step 1 = %+v", steps[0])
	}
	topic := steps[1]
	if topic.Options[0].NextStepID != steps[3].ID || topic.Options[1].Value != "Other" {
		t.Fatalf("topic options = %+v", topic.Options)
	}
	if steps[3].ResponseType != dialog.ResponseFinal {
		t.Fatalf("last step = %+v", steps[3])
	}

	cmds, _ := st.Commands.List(ctx, true)
	if len(cmds) != 3 {
		t.Fatalf("commands = %+v", cmds)
	}
	if a, ok := cmds[0].Action.(dialog.StartFlow); !ok || a.FlowID != flows[0].ID {
		t.Fatalf("start action = %#v", cmds[0].Action)
	}
	if a, ok := cmds[1].Action.(dialog.SendFlowInvitation); !ok || a.ButtonText != "Sure" {
		t.Fatalf("invitation action = %#v", cmds[1].Action)
	}
	if cmds[2].MatchType != dialog.MatchContains || cmds[2].Priority != 5 || cmds[2].Action != nil {
		t.Fatalf("help command = %+v", cmds[2])
	}
}

func TestSeedSkipsWhenDataExists(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	existing := dialog.Command{Pattern: "/x", MatchType: dialog.MatchExact}
	_ = st.Commands.Save(ctx, &existing)

	f, _ := Parse([]byte(doc))
	if err := (Seeder{File: f}).Seed(ctx, st.Set()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	flows, _ := st.Flows.List(ctx, false)
	if len(flows) != 0 {
		t.Fatalf("seeded over existing data: %+v", flows)
	}
}

func TestSeedRejectsUnknownReferences(t *testing.T) {
	cases := map[string]string{
		"next":   "flows:\n  - name: A\n    steps:\n      - question: q\n        next: nope\n",
		"flow":   "commands:\n  - pattern: /a\n    action:\n      type: startFlow\n      flow: Missing\n",
		"type":   "flows:\n  - name: A\n    steps:\n      - question: q\n        type: essay\n",
		"action": "commands:\n  - pattern: /a\n    action:\n      type: explode\n",
	}
	for name, body := range cases {
		f, err := Parse([]byte(body))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if err := (Seeder{File: f}).Seed(context.Background(), memory.New().Set()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSeedRejectsForeignStorage(t *testing.T) {
	if err := (Seeder{File: &File{}}).Seed(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unsupported storage")
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Load(path)
	if err != nil || len(f.Flows) != 1 || len(f.Commands) != 3 {
		t.Fatalf("load = %+v, %v", f, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExampleSeedBuildsCleanCatalog(t *testing.T) {
	f, err := Load(filepath.Join("..", "..", "..", "seed.example.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st := memory.New()
	ctx := context.Background()
	if err := (Seeder{File: f}).Seed(ctx, st.Set()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := catalog.FromRepositories(st.Set())
	cmds, _ := src.ActiveCommands(ctx)
	flows, _ := src.ActiveFlows(ctx)
	snap := catalog.Build(cmds, flows)
	if errs := snap.Errors(); len(errs) != 0 {
		t.Fatalf("config errors: %v", errs)
	}
	if snap.DefaultFlowID == 0 || snap.Commands.Len() != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
