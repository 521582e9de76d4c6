package navigator

import (
	"net/url"
	"strings"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// GateState is the outcome of resolving a deep link.
type GateState int

const (
	GateIdle GateState = iota
	GateResolving
	GateGranted
	GateRedirecting
	GateNotFound
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateResolving:
		return "resolving"
	case GateGranted:
		return "granted"
	case GateRedirecting:
		return "redirecting"
	case GateNotFound:
		return "not_found"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s GateState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Evidence is the local proof that the user may be logged in. Neither value
// is verified here.
type Evidence struct {
	Token         string
	SessionCookie string
}

// Present reports whether any credential evidence exists.
func (e Evidence) Present() bool {
	return e.Token != "" || e.SessionCookie != ""
}

// Decision is the result of one resolving pass. Node is nil when the address
// named the root.
type Decision struct {
	State       GateState
	Node        *models.Node
	RedirectURL string
}

// Gate decides whether a deep-linked node may be shown or whether the user
// must first log in. It resolves once per session, plus exactly one forced
// pass after returning from the login service.
type Gate struct {
	loginURL   string
	appBaseURL string

	state         GateState
	resolved      bool
	forcePass     bool
	handledReturn bool
}

// NewGate creates a gate redirecting to loginURL with return URLs under appBaseURL.
func NewGate(loginURL, appBaseURL string) *Gate {
	return &Gate{
		loginURL:   loginURL,
		appBaseURL: strings.TrimSuffix(appBaseURL, "/"),
	}
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	return g.state
}

// CanResolve reports whether Resolve would run a pass.
func (g *Gate) CanResolve() bool {
	if g.state == GateRedirecting {
		return false
	}
	return !g.resolved || g.forcePass
}

// ArmReturn records that the login handoff came back and allows one more
// pass. It returns false if a return was already handled this session.
func (g *Gate) ArmReturn() bool {
	if g.handledReturn {
		return false
	}
	g.handledReturn = true
	g.forcePass = true
	return true
}

// Resolve runs one pass for identifier against root. The boolean is false
// when the gate refused to run.
func (g *Gate) Resolve(root *models.Node, identifier string, ev Evidence) (Decision, bool) {
	if !g.CanResolve() {
		return Decision{State: g.state}, false
	}
	g.forcePass = false
	g.state = GateResolving

	d := g.decide(root, identifier, ev)
	g.state = d.State
	if d.State != GateRedirecting {
		g.resolved = true
	}
	return d, true
}

func (g *Gate) decide(root *models.Node, identifier string, ev Evidence) Decision {
	if identifier == "" {
		return Decision{State: GateGranted}
	}

	node := tree.FindByShareIdentifier(root, identifier)
	if node == nil {
		if !ev.Present() {
			return Decision{State: GateRedirecting, RedirectURL: g.RedirectURL(identifier)}
		}
		return Decision{State: GateNotFound}
	}
	if node.IsPrivate() && !ev.Present() {
		return Decision{State: GateRedirecting, RedirectURL: g.RedirectURL(identifier)}
	}
	if node.IsRoot() {
		return Decision{State: GateGranted}
	}
	return Decision{State: GateGranted, Node: node}
}

// RedirectURL builds the login URL carrying the absolute return URL for identifier.
func (g *Gate) RedirectURL(identifier string) string {
	returnURL := g.appBaseURL + "/" + url.PathEscape(identifier)

	u, err := url.Parse(g.loginURL)
	if err != nil {
		return g.loginURL + "?return_url=" + url.QueryEscape(returnURL)
	}
	q := u.Query()
	q.Set("return_url", returnURL)
	u.RawQuery = q.Encode()
	return u.String()
}
