package controller

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func browserInspections() []m.Inspection {
	return []m.Inspection{
		{
			Name: "Acme.Licensing",
			Methods: []m.MethodInfo{
				{FullName: "Acme.App::CheckLicense", ReturnKind: m.ReturnBoolean, ReturnType: "bool", HasBody: true, BodySize: 3, Matched: true},
				{FullName: "Acme.App::Foo", ReturnKind: m.ReturnInteger, ReturnType: "int32", HasBody: true, BodySize: 24},
			},
		},
		{
			Name: "Vendor.Shared",
			Methods: []m.MethodInfo{
				{FullName: "Vendor.Edition::Get", ReturnKind: m.ReturnInteger, ReturnType: "uint16", HasBody: true, BodySize: 2, Matched: true},
			},
		},
	}
}

func press(bm browserModel, key string) (browserModel, tea.Cmd) {
	model, cmd := bm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return model.(browserModel), cmd
}

func TestBrowserModel_Rows(t *testing.T) {
	bm := newBrowserModel(browserInspections())

	if got := len(bm.table.Rows()); got != 3 {
		t.Fatalf("rows = %d, want 3", got)
	}

	row := bm.table.Rows()[0]
	if row[0] != "Acme.Licensing" || row[1] != "Acme.App::CheckLicense" || row[4] != "yes" {
		t.Errorf("unexpected first row %v", row)
	}

	view := bm.View()
	if !strings.Contains(view, "3 of 3 all methods") {
		t.Errorf("view missing title:\n%s", view)
	}
}

func TestBrowserModel_ToggleMatched(t *testing.T) {
	bm := newBrowserModel(browserInspections())

	bm, _ = press(bm, "m")
	if got := len(bm.table.Rows()); got != 2 {
		t.Fatalf("matched rows = %d, want 2", got)
	}

	if !strings.Contains(bm.View(), "2 of 3 matched methods") {
		t.Errorf("view missing filter title:\n%s", bm.View())
	}

	bm, _ = press(bm, "m")
	if got := len(bm.table.Rows()); got != 3 {
		t.Fatalf("rows after second toggle = %d, want 3", got)
	}
}

func TestBrowserModel_Quit(t *testing.T) {
	bm := newBrowserModel(browserInspections())

	bm, cmd := press(bm, "q")
	if cmd == nil {
		t.Fatal("expected quit command")
	}

	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}

	if bm.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestBrowserModel_WindowSize(t *testing.T) {
	bm := newBrowserModel(browserInspections())

	model, _ := bm.Update(tea.WindowSizeMsg{Width: 120, Height: 10})
	bm = model.(browserModel)

	if !strings.Contains(bm.View(), "Acme.App::CheckLicense") {
		t.Errorf("view should still list methods:\n%s", bm.View())
	}
}
