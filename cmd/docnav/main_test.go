package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/api"
	"github.com/fruitsalade/docnav/internal/auth"
	"github.com/fruitsalade/docnav/internal/credentials"
	"github.com/fruitsalade/docnav/internal/events"
	"github.com/fruitsalade/docnav/internal/metadata"
	"github.com/fruitsalade/docnav/internal/storage"
	"github.com/fruitsalade/docnav/pkg/client"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

const testAppURL = "http://app.example.com"

func seedTree() *models.Node {
	return &models.Node{ID: models.RootID, Name: "root", Kind: models.KindFolder, Children: []*models.Node{
		{ID: "guides", Name: "Guides", Kind: models.KindFolder, Children: []*models.Node{
			{ID: "style", Name: "Style Guide", Kind: models.KindFile, Mime: "application/pdf", URL: "docs/StyleGuide-v2.pdf"},
		}},
		{ID: "hr", Name: "HR", Kind: models.KindFolder, Access: models.AccessOf(models.AccessPrivate), Children: []*models.Node{
			{ID: "salaries", Name: "Salaries plan.xlsx", Kind: models.KindFile},
		}},
		{ID: "a", Name: "Plan.md", Kind: models.KindFile},
		{ID: "b", Name: "B.md", Kind: models.KindFile},
	}}
}

type cliEnv struct {
	ts       *httptest.Server
	credsDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	authHandler := auth.New(auth.Options{Secret: "s3cret", AppURL: testAppURL, Logger: zap.NewNop()})
	srv := api.NewServer(metadata.NewMemoryStore(seedTree()), authHandler,
		storage.NewStatic("https://cdn.example.com/files"), events.NewBroadcaster(), zap.NewNop())
	require.NoError(t, srv.Init(context.Background()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	env := &cliEnv{ts: ts, credsDir: t.TempDir()}
	t.Setenv("DOCNAV_CONFIG", "")
	t.Setenv("DOCNAV_API_URL", ts.URL)
	t.Setenv("DOCNAV_APP_URL", testAppURL)
	t.Setenv("DOCNAV_LOGIN_URL", ts.URL+"/login")
	t.Setenv("DOCNAV_CREDENTIALS_DIR", env.credsDir)
	t.Setenv("DOCNAV_RETRY_MAX", "0")
	return env
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	_, err := e.run(t, "1234\n", "login", "--user", "alice")
	require.NoError(t, err)
}

// remoteTree reads the server's tree with the stored token.
func (e *cliEnv) remoteTree(t *testing.T) *models.Node {
	t.Helper()
	c := client.New(client.Config{BaseURL: e.ts.URL, Logger: zap.NewNop()})
	c.SetAuthToken(credentials.New(e.credsDir, e.ts.URL, zap.NewNop()).Token())
	root, err := c.FetchTree(context.Background(), false)
	require.NoError(t, err)
	return root
}

func childIDs(n *models.Node) []string {
	var ids []string
	for _, c := range n.Children {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestOpenPublicDeepLink(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "open", "/styleguide-v2")
	require.NoError(t, err)
	assert.Contains(t, out, "address: /style\n")
	assert.Contains(t, out, "user:    anonymous")
	assert.Contains(t, out, "file:    Style Guide.pdf (style)")
	assert.Contains(t, out, "type:    PDF, public")
	assert.Contains(t, out, "url:     https://cdn.example.com/files/docs/StyleGuide-v2.pdf")
}

func TestStatusReportsReachability(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "server:  "+env.ts.URL+"\n")
	assert.Contains(t, out, "state:   online\n")
	assert.Contains(t, out, "checked: ")

	env.ts.Close()
	out, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "state:   offline\n")
	assert.Contains(t, out, "error:   ")
}

func TestWatcherReportsReachabilityChanges(t *testing.T) {
	var buf bytes.Buffer
	a := &app{out: newPrinter(&buf, false), api: client.New(client.Config{BaseURL: "http://docs.example.com", Logger: zap.NewNop()})}
	w := &watcher{app: a, online: true}

	w.setOnline(true)
	assert.Empty(t, buf.String())

	w.setOnline(false)
	w.setOnline(false)
	assert.Equal(t, "server offline: http://docs.example.com\n", buf.String())

	buf.Reset()
	w.setOnline(true)
	assert.Equal(t, "server online: http://docs.example.com\n", buf.String())
}

func TestOpenPrivateRequiresLogin(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "open", "/salaries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login required: "+env.ts.URL+"/login?return_url=")
}

func TestOpenSelectsFolderAndFile(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "open", "/", "--folder", "guides", "--file", "style")
	require.NoError(t, err)
	assert.Contains(t, out, "address: /style\n")
	assert.Contains(t, out, "folder:  Guides")
}

func TestLoginOpensRequestedDocument(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "1234\n", "login", "/salaries", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "user:    alice")
	assert.Contains(t, out, "file:    Salaries plan.xlsx (salaries)")

	store := credentials.New(env.credsDir, env.ts.URL, zap.NewNop())
	assert.NotEmpty(t, store.Token())
	assert.Empty(t, store.SessionCookie(), "the artifact is single-use")

	out, err = env.run(t, "", "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "HR/")
	assert.Contains(t, out, "Salaries plan.xlsx")
}

func TestLoginRejectsBlankCode(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "\n", "login", "--user", "alice")
	require.Error(t, err)
}

func TestTreeHidesPrivateNodes(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "Guides/")
	assert.NotContains(t, out, "HR/")
}

func TestSearch(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "search", "plan")
	require.NoError(t, err)
	assert.Contains(t, out, `search:  "plan" [local]`)
	assert.Contains(t, out, "Plan.md")
	assert.NotContains(t, out, "Salaries")

	out, err = env.run(t, "", "search", "plan", "--external")
	require.NoError(t, err)
	assert.Contains(t, out, `search:  "plan" [external]`)
	assert.Contains(t, out, "Plan.md")
}

func TestMoveToEnd(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	_, err := env.run(t, "", "move", "a", "--end")
	require.NoError(t, err)
	assert.Equal(t, []string{"guides", "hr", "b", "a"}, childIDs(env.remoteTree(t)))

	out, err := env.run(t, "", "move", "a", "--onto", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to move")
}

func TestMoveIntoFolder(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	_, err := env.run(t, "", "move", "b", "--into", "guides")
	require.NoError(t, err)
	assert.Equal(t, "guides", tree.FindParent(env.remoteTree(t), "b").ID)
}

func TestMoveFlags(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "move", "a")
	require.Error(t, err)
	_, err = env.run(t, "", "move", "a", "--end", "--into", "guides")
	require.Error(t, err)
	_, err = env.run(t, "", "move", "guides", "--end")
	require.Error(t, err, "folders cannot be dragged")
}

func TestMutations(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	out, err := env.run(t, "", "mkdir", "Archive", "--in", "guides")
	require.NoError(t, err)
	assert.Contains(t, out, "created Archive (")

	_, err = env.run(t, "", "rename", "a", "Notes.md")
	require.NoError(t, err)
	_, err = env.run(t, "", "chmod", "b", "private")
	require.NoError(t, err)
	_, err = env.run(t, "", "rm", "hr")
	require.NoError(t, err)

	root := env.remoteTree(t)
	guides := tree.FindByID(root, "guides")
	require.Len(t, guides.Children, 2)
	assert.Equal(t, "Archive", guides.Children[1].Name)
	assert.Equal(t, "Notes.md", tree.FindByID(root, "a").Name)
	assert.True(t, tree.FindByID(root, "b").IsPrivate())
	assert.Nil(t, tree.FindByID(root, "salaries"))

	_, err = env.run(t, "", "chmod", "b", "secret")
	require.Error(t, err)
}

func TestLogout(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	out, err := env.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")
	assert.Empty(t, credentials.New(env.credsDir, env.ts.URL, zap.NewNop()).Token())

	out, err = env.run(t, "", "tree")
	require.NoError(t, err)
	assert.NotContains(t, out, "HR/")
}

func TestJSONOutput(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "open", "/guides", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"folder_id": "guides"`)
	assert.Contains(t, out, `"address": "/guides"`)
}
