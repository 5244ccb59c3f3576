package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/todosync/internal/model"
)

func plainPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, ColorNever)
	p.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	return p, &out, &errOut
}

func TestCategory(t *testing.T) {
	p, out, _ := plainPrinter()
	due := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p.Category(model.Category{
		ID:    "inbox",
		Title: "Inbox",
		Color: "#804040",
		TodoItems: []model.Item{
			{ID: "a", Text: "water plants", Due: &due},
			{ID: "b", Text: "pay rent", Completed: true},
		},
	}, true)

	got := out.String()
	for _, want := range []string{
		activeMarker,
		"Inbox",
		"(1/2 done)",
		"1. " + boxUnchecked + " water plants",
		"(overdue)",
		"2. " + boxChecked + " pay rent",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("ColorNever output contains escape codes: %q", got)
	}
}

func TestCategory_Empty(t *testing.T) {
	p, out, _ := plainPrinter()
	p.Category(model.DefaultCategory(), false)
	if !strings.Contains(out.String(), "nothing to do") {
		t.Errorf("output = %q", out.String())
	}
	if strings.Contains(out.String(), activeMarker) {
		t.Error("inactive category marked active")
	}
}

func TestCategories(t *testing.T) {
	p, out, _ := plainPrinter()
	p.Categories([]model.Category{
		{ID: "inbox", Title: "Inbox"},
		{ID: "work", Title: "Work"},
	}, 1)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if strings.Contains(lines[0], activeMarker) || !strings.Contains(lines[1], activeMarker) {
		t.Errorf("active marker on wrong line:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "work") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestOKAndFail(t *testing.T) {
	p, out, errOut := plainPrinter()
	p.OK("added %s", "milk")
	p.Fail("no such category %q", "x")
	if out.String() != "✔ added milk\n" {
		t.Errorf("OK output = %q", out.String())
	}
	if !strings.Contains(errOut.String(), `no such category "x"`) {
		t.Errorf("Fail output = %q", errOut.String())
	}
}

func TestColorAlways(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, &out, ColorAlways)
	p.OK("done")
	if !strings.Contains(out.String(), "\x1b[") {
		t.Errorf("ColorAlways output has no escape codes: %q", out.String())
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		done, total, width int
		want               string
	}{
		{0, 0, 4, "[░░░░] 0/1"},
		{1, 2, 4, "[██░░] 1/2"},
		{3, 2, 4, "[████] 3/2"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.done, tt.total, tt.width); got != tt.want {
			t.Errorf("ProgressBar(%d, %d, %d) = %q, want %q", tt.done, tt.total, tt.width, got, tt.want)
		}
	}
}

func TestValidators(t *testing.T) {
	if validateTitle("  ") == nil {
		t.Error("blank title accepted")
	}
	if validateTitle("Work") != nil {
		t.Error("title rejected")
	}
	for _, c := range []string{"", "#abc", "#A0B0C0"} {
		if err := validateColor(c); err != nil {
			t.Errorf("validateColor(%q) = %v", c, err)
		}
	}
	if validateColor("red") == nil {
		t.Error("named color accepted")
	}
}
