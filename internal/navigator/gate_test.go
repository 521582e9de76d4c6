package navigator

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fruitsalade/docnav/pkg/models"
)

const (
	testLoginURL = "https://login.example.com/sms"
	testAppURL   = "https://docs.example.com"
)

func TestGateDecisions(t *testing.T) {
	root := guidesTree(models.AccessPrivate)
	token := Evidence{Token: "jwt"}
	cookie := Evidence{SessionCookie: "sess"}

	tests := []struct {
		name  string
		ident string
		ev    Evidence
		state GateState
		node  string
	}{
		{"root address", "", Evidence{}, GateGranted, ""},
		{"root id", "root", Evidence{}, GateGranted, ""},
		{"public folder", "guides", Evidence{}, GateGranted, "guides"},
		{"missing access is public", "style", Evidence{}, GateGranted, "style"},
		{"share identifier", "styleguide-v2", Evidence{}, GateGranted, "style"},
		{"private without evidence", "onboarding.md", Evidence{}, GateRedirecting, ""},
		{"private with token", "onboarding.md", token, GateGranted, "onboarding.md"},
		{"private with cookie", "onboarding.md", cookie, GateGranted, "onboarding.md"},
		{"absent without evidence", "nope", Evidence{}, GateRedirecting, ""},
		{"absent with evidence", "nope", token, GateNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(testLoginURL, testAppURL)
			d, ran := g.Resolve(root, tt.ident, tt.ev)
			require.True(t, ran)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.state, g.State())
			if tt.node == "" {
				assert.Nil(t, d.Node)
			} else {
				require.NotNil(t, d.Node)
				assert.Equal(t, tt.node, d.Node.ID)
			}
			if tt.state == GateRedirecting {
				assert.NotEmpty(t, d.RedirectURL)
			}
		})
	}
}

func TestGateRedirectURL(t *testing.T) {
	g := NewGate(testLoginURL+"?lang=en", testAppURL+"/")

	u, err := url.Parse(g.RedirectURL("onboarding.md"))
	require.NoError(t, err)
	assert.Equal(t, "login.example.com", u.Host)
	assert.Equal(t, "en", u.Query().Get("lang"))
	assert.Equal(t, "https://docs.example.com/onboarding.md", u.Query().Get("return_url"))
}

func TestGateIsOneShot(t *testing.T) {
	root := guidesTree(models.AccessPublic)
	g := NewGate(testLoginURL, testAppURL)

	_, ran := g.Resolve(root, "guides", Evidence{})
	require.True(t, ran)
	assert.False(t, g.CanResolve())

	_, ran = g.Resolve(root, "onboarding.md", Evidence{})
	assert.False(t, ran, "second pass refused")

	require.True(t, g.ArmReturn())
	d, ran := g.Resolve(root, "onboarding.md", Evidence{Token: "t"})
	require.True(t, ran, "forced pass after login return")
	assert.Equal(t, "onboarding.md", d.Node.ID)

	_, ran = g.Resolve(root, "guides", Evidence{Token: "t"})
	assert.False(t, ran)
	assert.False(t, g.ArmReturn(), "only one return per session")
}

func TestGateRedirectIsTerminal(t *testing.T) {
	root := guidesTree(models.AccessPrivate)
	g := NewGate(testLoginURL, testAppURL)

	d, _ := g.Resolve(root, "onboarding.md", Evidence{})
	require.Equal(t, GateRedirecting, d.State)
	assert.False(t, g.CanResolve())
	g.ArmReturn()
	assert.False(t, g.CanResolve())
}

func TestGateSessionsAreIndependent(t *testing.T) {
	root := guidesTree(models.AccessPublic)
	a := NewGate(testLoginURL, testAppURL)
	b := NewGate(testLoginURL, testAppURL)

	a.Resolve(root, "guides", Evidence{})
	a.ArmReturn()
	assert.True(t, b.CanResolve())
	assert.True(t, b.ArmReturn())
}

func TestGatePrivateNeverGrantedWithoutEvidence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		root := guidesTree(models.AccessPublic)
		var private []*models.Node
		for _, n := range []string{"guides", "onboarding.md", "style", "a", "b"} {
			node := findTest(root, n)
			if rapid.Bool().Draw(t, "private-"+n) {
				node.Access = models.AccessOf(models.AccessPrivate)
				private = append(private, node)
			}
		}
		if len(private) == 0 {
			return
		}
		target := rapid.SampledFrom(private).Draw(t, "target")

		g := NewGate(testLoginURL, testAppURL)
		d, _ := g.Resolve(root, target.ID, Evidence{})
		if d.State != GateRedirecting {
			t.Fatalf("private %q resolved to %s", target.ID, d.State)
		}
	})
}

func findTest(root *models.Node, id string) *models.Node {
	if root.ID == id {
		return root
	}
	for _, c := range root.Children {
		if n := findTest(c, id); n != nil {
			return n
		}
	}
	return nil
}
