package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/docnav/internal/navigator"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "/"
}

func newOpenCmd(a *app) *cobra.Command {
	var folderID, fileID string

	cmd := &cobra.Command{
		Use:   "open [address]",
		Short: "Open a document link and show the content pane",
		Long: `Open resolves an address the way a pasted link would and prints the
resulting selection. Private documents require a login first.

Example:
  docnav open /Handbook
  docnav open / --folder guides --file style`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.start(cmd.Context(), pathArg(args))
			if err != nil {
				return err
			}
			if folderID != "" {
				s.SelectFolder(folderID)
			}
			if fileID != "" {
				s.SelectFile(fileID)
			}
			return a.out.Snapshot(s.Snapshot())
		},
	}
	cmd.Flags().StringVar(&folderID, "folder", "", "Folder id to open after resolving")
	cmd.Flags().StringVar(&fileID, "file", "", "File id to select after resolving")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.out.Status(a.status(cmd.Context()))
		},
	}
}

// status pings the server and reports the client's view of it.
func (a *app) status(ctx context.Context) serverStatus {
	err := a.api.Ping(ctx)
	st := serverStatus{URL: a.api.BaseURL(), Online: a.api.IsOnline(), CheckedAt: a.api.LastPing()}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree [address]",
		Short: "Print the document tree visible to you",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.start(cmd.Context(), pathArg(args))
			if err != nil {
				return err
			}
			return a.out.Tree(s.Snapshot())
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var external bool
	var folderID string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search file names, locally or on the server",
		Long: `Search filters the files of the loaded tree by name. With --external the
query is sent to the server's search endpoint instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.start(cmd.Context(), "/")
			if err != nil {
				return err
			}
			if folderID != "" {
				s.SelectFolder(folderID)
			}
			if external {
				s.SetSearchMode(navigator.ModeExternal)
			}
			s.SetSearch(args[0])
			if external {
				s.RetriggerSearch(cmd.Context())
			}

			snap := s.Snapshot()
			if err := a.out.Snapshot(snap); err != nil {
				return err
			}
			if snap.Search.Error != "" {
				return errors.New(snap.Search.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&external, "external", false, "Query the server instead of filtering locally")
	cmd.Flags().StringVar(&folderID, "folder", "", "Folder to show when the query is blank")
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	var onto, into, folderID, query string
	var end bool

	cmd := &cobra.Command{
		Use:   "move <file-id>",
		Short: "Reorder or move a file",
		Long: `Move replays a drag and drop. Exactly one target is required:

  --onto <id>    drop onto an item of the open folder's list
  --into <id>    drop onto a folder in the sidebar
  --end          drop on the empty area below the list

The open folder defaults to the file's parent. --search filters the list
first, so --onto may name a search result.

Example:
  docnav move intro --onto faq
  docnav move intro --into archive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := 0
			for _, set := range []bool{onto != "", into != "", end} {
				if set {
					targets++
				}
			}
			if targets != 1 {
				return errors.New("exactly one of --onto, --into or --end is required")
			}

			ctx := cmd.Context()
			s, err := a.start(ctx, "/")
			if err != nil {
				return err
			}

			fileID := args[0]
			snap := s.Snapshot()
			if !tree.FindByID(snap.Root, fileID).IsFile() {
				return errors.Errorf("no file with id %q", fileID)
			}
			if folderID == "" {
				folderID = tree.FindParent(snap.Root, fileID).ID
			}
			s.SelectFolder(folderID)
			if query != "" {
				s.SetSearch(query)
			}

			s.BeginDrag(fileID)
			var sent bool
			switch {
			case onto != "":
				s.HoverDrop(onto)
				sent, err = s.Drop(ctx, onto)
			case into != "":
				sent, err = s.DropOnTreeFolder(ctx, into)
			default:
				sent, err = s.DropOnEmptyArea(ctx)
			}
			if err != nil {
				return err
			}
			if !sent {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to move")
				return nil
			}
			return a.out.Snapshot(s.Snapshot())
		},
	}
	cmd.Flags().StringVar(&onto, "onto", "", "Displayed item to drop onto")
	cmd.Flags().StringVar(&into, "into", "", "Sidebar folder to drop into")
	cmd.Flags().BoolVar(&end, "end", false, "Drop below the last item")
	cmd.Flags().StringVar(&folderID, "folder", "", "Open folder during the drag")
	cmd.Flags().StringVar(&query, "search", "", "Local search applied before the drop")
	return cmd
}

func newMkdirCmd(a *app) *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.start(ctx, "/")
			if err != nil {
				return err
			}
			s.SelectFolder(parentID)
			if s.Snapshot().Selection.FolderID != parentID {
				return errors.Errorf("no folder with id %q", parentID)
			}
			node, err := s.CreateFolder(ctx, args[0])
			if err != nil {
				return err
			}
			if node == nil {
				return errors.New("folder name must not be blank")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", node.Name, node.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&parentID, "in", models.RootID, "Parent folder id")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.start(ctx, "/")
			if err != nil {
				return err
			}
			if err := s.Rename(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s\n", args[0])
			return nil
		},
	}
}

func newChmodCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "chmod <id> public|private",
		Short:     "Change who can see a node",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"public", "private"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var access models.Access
			switch args[1] {
			case "public":
				access = models.AccessPublic
			case "private":
				access = models.AccessPrivate
			default:
				return errors.Errorf("access must be public or private, got %q", args[1])
			}

			ctx := cmd.Context()
			s, err := a.start(ctx, "/")
			if err != nil {
				return err
			}
			if err := s.SetAccess(ctx, args[0], access); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], args[1])
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.start(ctx, "/")
			if err != nil {
				return err
			}
			if err := s.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
