package navigator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		path  string
		ident string
		ok    bool
	}{
		{"/", "", true},
		{"", "", true},
		{"/onboarding.md", "onboarding.md", true},
		{"/My%20Doc", "My Doc", true},
		{"/abc/extra", "abc", true},
		{"/abc?x=1", "abc", true},
		{"/video/xyz", "", false},
		{"/video", "video", true},
	}
	for _, tt := range tests {
		ident, ok := ParseIdentifier(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.ident, ident, tt.path)
	}
}

func TestTargetPath(t *testing.T) {
	assert.Equal(t, "/", TargetPath(RootSelection()))
	assert.Equal(t, "/guides", TargetPath(Selection{FolderID: "guides"}))
	assert.Equal(t, "/f1", TargetPath(Selection{FolderID: "guides", FileID: "f1"}))
	assert.Equal(t, "/f1", TargetPath(Selection{FolderID: models.RootID, FileID: "f1"}))
	assert.Equal(t, "/a%20b", TargetPath(Selection{FileID: "a b"}))
}

func TestOutboundWaitsForInbound(t *testing.T) {
	loc := NewMemoryLocation("/onboarding.md")
	s := NewSynchronizer(loc)

	assert.False(t, s.Outbound(RootSelection()), "tree not loaded")
	s.TreeLoaded()
	assert.False(t, s.Outbound(RootSelection()), "inbound not done")
	assert.Equal(t, "/onboarding.md", loc.Path())

	s.InboundDone()
	assert.False(t, s.Outbound(Selection{FolderID: "guides", FileID: "onboarding.md"}), "already equal")
	assert.Equal(t, 0, loc.Replacements())

	assert.True(t, s.Outbound(Selection{FolderID: "guides"}))
	assert.Equal(t, "/guides", loc.Path())
	assert.Equal(t, 1, loc.Replacements())
	assert.Equal(t, 1, loc.HistoryLength(), "replacements add no history")
}

func TestOutboundLeavesReservedAddress(t *testing.T) {
	loc := NewMemoryLocation("/video/abc")
	s := NewSynchronizer(loc)
	s.TreeLoaded()
	s.InboundDone()

	assert.False(t, s.Outbound(Selection{FolderID: "guides"}))
	assert.Equal(t, "/video/abc", loc.Path())
}

func TestAddressRoundTrip(t *testing.T) {
	root := guidesTree(models.AccessPublic)
	var files []*models.Node
	tree.Walk(root, func(n *models.Node) bool {
		if n.IsFile() {
			files = append(files, n)
		}
		return true
	})

	rapid.Check(t, func(t *rapid.T) {
		f := rapid.SampledFrom(files).Draw(t, "file")
		cycles := rapid.IntRange(1, 3).Draw(t, "cycles")

		loc := NewMemoryLocation("/")
		s := NewSynchronizer(loc)
		s.TreeLoaded()
		s.InboundDone()

		sel := Selection{FolderID: models.RootID, FileID: f.ID}
		for i := 0; i < cycles; i++ {
			s.Outbound(sel)
			ident, ok := s.Identifier()
			if !ok {
				t.Fatalf("address %q not parseable", loc.Path())
			}
			got := tree.FindByShareIdentifier(root, ident)
			if got != f {
				t.Fatalf("address %q resolved to %v, want %q", loc.Path(), got, f.ID)
			}
		}
		if loc.Replacements() != 1 {
			t.Fatalf("expected one replacement, got %d", loc.Replacements())
		}
	})
}
