package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/todosync/internal/auth"
	"github.com/mschirtzinger/todosync/internal/docstore"
	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/ui"
)

// isolateEnv keeps the developer's config, credentials and TODOSYNC_*
// variables out of the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TODOSYNC_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

type cli struct {
	t       *testing.T
	local   string
	creds   *auth.Store
	baseArg []string
}

func newCLI(t *testing.T, extra ...string) *cli {
	t.Helper()
	isolateEnv(t)
	dir := t.TempDir()
	c := &cli{
		t:     t,
		local: filepath.Join(dir, "todos.db"),
		creds: auth.NewStore(filepath.Join(dir, "creds")),
	}
	c.baseArg = append([]string{"--local", c.local, "--color-mode", "never"}, extra...)
	return c
}

func (c *cli) run(stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	a := &app{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		creds:  c.creds,
	}
	err := run(context.Background(), a, append(append([]string{}, c.baseArg...), args...))
	return stdout.String(), stderr.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, err := c.run("", args...)
	if err != nil {
		c.t.Fatalf("todosync %s: %v\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), err, out, errOut)
	}
	return out
}

func startDocstore(t *testing.T, token string) string {
	t.Helper()
	server := docstore.New(localstore.NewMemory(), &docstore.Config{
		Token:  token,
		Logger: log.New(io.Discard, "", 0),
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestLocalOnlyWorkflow(t *testing.T) {
	c := newCLI(t)

	if out := c.mustRun("list"); !strings.Contains(out, "Inbox") || !strings.Contains(out, "nothing to do") {
		t.Fatalf("fresh list:\n%s", out)
	}

	c.mustRun("category", "add", "--use", "--color", "#408040", "Groceries")
	c.mustRun("item", "add", "buy", "milk")
	c.mustRun("item", "add", "--due", "2024-03-01", "buy eggs")
	c.mustRun("item", "done", "1")

	out := c.mustRun("list")
	for _, want := range []string{"Groceries", "(1/2 done)", "buy milk", "buy eggs", "due"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	if out := c.mustRun("clear"); !strings.Contains(out, "Cleared 1") {
		t.Errorf("clear output:\n%s", out)
	}
	if out := c.mustRun("list"); strings.Contains(out, "buy milk") {
		t.Errorf("completed item survived clear:\n%s", out)
	}

	out = c.mustRun("category", "ls")
	if !strings.Contains(out, "Inbox") || !strings.Contains(out, "Groceries") {
		t.Errorf("category ls:\n%s", out)
	}

	c.mustRun("category", "use", "inbox")
	c.mustRun("category", "rm", "--yes", "Groceries")
	if out := c.mustRun("category", "ls"); strings.Contains(out, "Groceries") {
		t.Errorf("category not removed:\n%s", out)
	}
}

func TestItemErrors(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("", "item", "rm", "7")
	if err == nil || !strings.Contains(err.Error(), "item not found") {
		t.Errorf("item rm 7: err = %v", err)
	}
	_, _, err = c.run("", "item", "add", "--category", "nope", "x")
	if err == nil || !strings.Contains(err.Error(), "category not found") {
		t.Errorf("unknown category: err = %v", err)
	}
	_, _, err = c.run("", "item", "add", "--due", "whenever-ish", "x")
	if err == nil {
		t.Error("nonsense due date accepted")
	}
	_, _, err = c.run("", "category", "add")
	if !errors.Is(err, ui.ErrNotInteractive) {
		t.Errorf("category add without title: err = %v", err)
	}
}

func TestCategoryRemove_NeedsConfirmation(t *testing.T) {
	c := newCLI(t)
	c.mustRun("item", "add", "water plants")

	if _, _, err := c.run("", "category", "rm", "inbox"); err == nil {
		t.Fatal("removed a non-empty category without --yes")
	}
	if out := c.mustRun("list"); !strings.Contains(out, "water plants") {
		t.Errorf("list after refused rm:\n%s", out)
	}
}

func TestSyncThroughDocstore(t *testing.T) {
	url := startDocstore(t, "s3cret") + "/b/home"

	alice := newCLI(t, "--remote", url, "--token", "s3cret")
	alice.mustRun("item", "add", "water plants")

	bob := newCLI(t, "--remote", url, "--token", "s3cret")
	out := bob.mustRun("list")
	if !strings.Contains(out, "water plants") {
		t.Fatalf("second client did not adopt the remote list:\n%s", out)
	}

	out = bob.mustRun("sync")
	if !strings.Contains(out, "Published local copy") && !strings.Contains(out, "Adopted") {
		t.Errorf("sync output:\n%s", out)
	}

	out = bob.mustRun("status")
	for _, want := range []string{url, "Remote update:", "Categories:   1"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestSync_WrongToken(t *testing.T) {
	url := startDocstore(t, "s3cret") + "/b/home"
	c := newCLI(t, "--remote", url, "--token", "wrong")
	t.Setenv("TODOSYNC_REMOTE_RETRIES", "0")

	out, _, err := c.run("", "item", "add", "water plants")
	if err != nil {
		t.Fatalf("item add failed: %v", err)
	}
	if !strings.Contains(out, "Saved locally") {
		t.Errorf("expected a local-only warning:\n%s", out)
	}
}

func TestSync_Offline(t *testing.T) {
	c := newCLI(t, "--remote", "http://127.0.0.1:1/b/x", "--offline")
	if _, _, err := c.run("", "sync"); err == nil {
		t.Error("sync succeeded with --offline")
	}
	c.mustRun("item", "add", "works offline")
}

func TestLoginUsedForRemote(t *testing.T) {
	url := startDocstore(t, "s3cret") + "/b/home"
	c := newCLI(t, "--remote", url)

	if _, _, err := c.run("Bearer s3cret\n", "login"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out := c.mustRun("item", "add", "after login")
	if strings.Contains(out, "Saved locally") {
		t.Errorf("stored token not used:\n%s", out)
	}

	c.mustRun("logout")
	if ti, err := c.creds.Token(); err != nil || ti != nil {
		t.Errorf("token after logout = %+v, %v", ti, err)
	}
}

func TestExportImport(t *testing.T) {
	src := newCLI(t)
	src.mustRun("category", "add", "--id", "work", "Work")
	src.mustRun("item", "add", "--category", "work", "write report")

	file := filepath.Join(t.TempDir(), "todos.yaml")
	if out := src.mustRun("export", file); !strings.Contains(out, "2 categories, 1 items") {
		t.Errorf("export output:\n%s", out)
	}

	dst := newCLI(t)
	if _, _, err := dst.run("", "import", file); err == nil {
		t.Fatal("import replaced existing categories without --yes")
	}
	if out := dst.mustRun("import", "--dry-run", file); !strings.Contains(out, "is valid") {
		t.Errorf("dry run output:\n%s", out)
	}
	dst.mustRun("import", "--yes", file)

	out := dst.mustRun("list", "work")
	if !strings.Contains(out, "write report") {
		t.Errorf("imported list:\n%s", out)
	}

	stdout := dst.mustRun("export", "--format", "toml", "-")
	if !strings.Contains(stdout, "[[todoListData]]") {
		t.Errorf("toml export to stdout:\n%s", stdout)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	c := newCLI(t, "--token", "hidden")
	path := filepath.Join(t.TempDir(), "todosync.yaml")
	c.mustRun("config", "init", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	out := c.mustRun("--config", path, "config", "show")
	if strings.Contains(out, "hidden") || !strings.Contains(out, "********") {
		t.Errorf("token not redacted:\n%s", out)
	}
	if !strings.Contains(out, c.local) {
		t.Errorf("flag value missing from config show:\n%s", out)
	}
}

func TestCategoryColorWithOutputMode(t *testing.T) {
	c := newCLI(t)
	c.mustRun("category", "add", "--id", "home", "Home")
	c.mustRun("category", "add", "--id", "work", "--color", "#123456", "Work")
	c.mustRun("category", "edit", "home", "--color", "#abc")

	out := c.mustRun("export", "-")
	for _, want := range []string{`"color": "#abc"`, `"color": "#123456"`} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %s:\n%s", want, out)
		}
	}
}

func TestInvalidColor(t *testing.T) {
	c := newCLI(t)
	c.baseArg = []string{"--local", c.local, "--color-mode", "sometimes"}
	if _, _, err := c.run("", "list"); err == nil {
		t.Error("invalid --color-mode accepted")
	}
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	if out := c.mustRun("version"); !strings.HasPrefix(out, "todosync ") {
		t.Errorf("version output = %q", out)
	}
}
