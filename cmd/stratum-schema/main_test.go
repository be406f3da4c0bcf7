package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSchema = `
roles:
  - name: user
    table: users
    primaryKey: id
    generatedKey: true
    relations:
      - name: posts
        kind: has-many
        target: post
        innerKey: author_id
        outerKey: id
  - name: post
    table: posts
    primaryKey: id
    generatedKey: true
    relations:
      - name: author
        kind: belongs-to
        target: user
        innerKey: author_id
        outerKey: id
`

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateAcceptsGoodSchema(t *testing.T) {
	path := writeSchema(t, sampleSchema)
	out, err := runCommand(t, "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "2 roles ok") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestValidateRejectsBrokenSchema(t *testing.T) {
	path := writeSchema(t, "roles:\n  - name: user\n    primaryKey: id\n")
	if _, err := runCommand(t, "validate", path); err == nil {
		t.Fatal("schema without a table must fail validation")
	}
}

func TestShowPrintsPartition(t *testing.T) {
	path := writeSchema(t, sampleSchema)
	out, err := runCommand(t, "show", path)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"user (table users, pk id, generated)", "masters", "slaves", "author -> user"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
