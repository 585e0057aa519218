package roomfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gastownhall/chatsync/internal/chat"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadGroupsAndDirectChats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeFile(t, path, `
groups:
  - general
  - random
direct-chats:
  - chat-1
`)

	convs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("len = %d, want 3", len(convs))
	}
	if convs[0] != (chat.Conversation{ID: "general", Kind: chat.KindGroup}) {
		t.Fatalf("convs[0] = %+v", convs[0])
	}
	if convs[2] != (chat.Conversation{ID: "chat-1", Kind: chat.KindDirect}) {
		t.Fatalf("convs[2] = %+v", convs[2])
	}
}

func TestLoadAppliesFiltersToGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeFile(t, path, `
groups:
  - team-alpha
  - team-beta-archive
  - other
direct-chats:
  - chat-1
include-filter: "^team-"
exclude-filter: "-archive$"
`)

	convs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Filters apply to groups only; direct chats pass through.
	want := []string{"team-alpha", "chat-1"}
	if len(convs) != len(want) {
		t.Fatalf("convs = %+v, want ids %v", convs, want)
	}
	for i := range want {
		if convs[i].ID != want[i] {
			t.Fatalf("convs[%d] = %q, want %q", i, convs[i].ID, want[i])
		}
	}
}

func TestLoadSkipsDuplicatesAndEmpties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeFile(t, path, `
groups:
  - general
  - ""
  - general
`)

	convs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("convs = %+v, want one entry", convs)
	}
}

func TestLoadRejectsInvalidFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeFile(t, path, `
groups: [general]
include-filter: "["
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid include-filter regex")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeFile(t, path, "groups: [unclosed")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
