package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/fruitsalade/docnav/internal/navigator"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

const (
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// printer writes snapshots either as text or as JSON.
type printer struct {
	w     io.Writer
	json  bool
	color bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	p := &printer{w: w, json: asJSON}
	if f, ok := w.(*os.File); ok && !asJSON {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) style(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

// Snapshot prints the content pane: the open folder or selected file and the
// displayed list.
func (p *printer) Snapshot(snap navigator.Snapshot) error {
	if p.json {
		return p.printJSON(snap)
	}

	fmt.Fprintf(p.w, "address: %s\n", snap.Address)
	if snap.Auth.User != nil {
		fmt.Fprintf(p.w, "user:    %s\n", snap.Auth.User.Username)
	} else {
		fmt.Fprintf(p.w, "user:    %s\n", p.style(ansiDim, "anonymous"))
	}
	if snap.Gate == navigator.GateNotFound {
		fmt.Fprintln(p.w, "not found")
	}

	folder := tree.FindByID(snap.Root, snap.Selection.FolderID)
	if folder != nil {
		fmt.Fprintf(p.w, "folder:  %s\n", p.style(ansiBold, folderName(folder)))
	}
	if file := tree.FindByID(snap.Root, snap.Selection.FileID); file != nil {
		fmt.Fprintf(p.w, "file:    %s (%s)\n", p.style(ansiBold, file.DisplayName()), file.ID)
		fmt.Fprintf(p.w, "type:    %s, %s\n", file.TypeLabel(), file.AccessLevel())
		if file.URL != "" {
			fmt.Fprintf(p.w, "url:     %s\n", file.URL)
		}
	}

	if snap.Search.Active() {
		fmt.Fprintf(p.w, "search:  %q [%s]\n", snap.Search.Query, snap.Search.Mode)
		if snap.Search.Error != "" {
			fmt.Fprintf(p.w, "error:   %s\n", snap.Search.Error)
		}
	}
	if snap.TreeError != "" {
		fmt.Fprintf(p.w, "error:   %s\n", snap.TreeError)
	}

	fmt.Fprintln(p.w)
	for _, n := range snap.Displayed {
		fmt.Fprintln(p.w, p.item(n, n.ID == snap.Selection.FileID))
	}
	if len(snap.Displayed) == 0 {
		fmt.Fprintln(p.w, p.style(ansiDim, "(empty)"))
	}
	return nil
}

// serverStatus is the reachability report of the status command.
type serverStatus struct {
	URL       string    `json:"url"`
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

func (st serverStatus) state() string {
	if st.Online {
		return "online"
	}
	return "offline"
}

// Status prints a server reachability report.
func (p *printer) Status(st serverStatus) error {
	if p.json {
		return p.printJSON(st)
	}
	fmt.Fprintf(p.w, "server:  %s\n", st.URL)
	fmt.Fprintf(p.w, "state:   %s\n", p.style(ansiBold, st.state()))
	if !st.CheckedAt.IsZero() {
		fmt.Fprintf(p.w, "checked: %s\n", st.CheckedAt.Format(time.RFC3339))
	}
	if st.Error != "" {
		fmt.Fprintf(p.w, "error:   %s\n", st.Error)
	}
	return nil
}

// Tree prints the sidebar: every folder and file, indented.
func (p *printer) Tree(snap navigator.Snapshot) error {
	if p.json {
		return p.printJSON(snap.Root)
	}
	if snap.Root == nil {
		return nil
	}
	fmt.Fprintln(p.w, p.style(ansiBold, "/"))
	p.walk(snap.Root.Children, 1, snap.Selection.FileID)
	return nil
}

func (p *printer) walk(children []*models.Node, depth int, selected string) {
	for _, n := range children {
		fmt.Fprintln(p.w, strings.Repeat("  ", depth)+p.item(n, n.ID == selected))
		if n.IsFolder() {
			p.walk(n.Children, depth+1, selected)
		}
	}
}

func (p *printer) item(n *models.Node, selected bool) string {
	name := n.DisplayName()
	if n.IsFolder() {
		name += "/"
	}
	if selected {
		name = p.style(ansiBold, name)
	}
	line := fmt.Sprintf("[%s] %s  %s", n.TypeLabel(), name, p.style(ansiDim, n.ID))
	if n.AccessLevel() == models.AccessPrivate {
		line += "  private"
	}
	return line
}

func folderName(n *models.Node) string {
	if n.IsRoot() {
		return "/"
	}
	return n.Name
}
