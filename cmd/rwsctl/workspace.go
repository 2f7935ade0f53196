package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lzjever/remote-workspace/internal/api"
	"github.com/lzjever/remote-workspace/internal/apiclient"
	"github.com/lzjever/remote-workspace/internal/core"
)

var (
	wsName     string
	wsOwner    string
	wsProjects []string
	wsPort     uint16
	wsProject  string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces with readiness and pull request state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		statuses, err := daemonClient().ListWorkspaces(ctx)
		if err != nil {
			fail(err)
		}
		printResult(statuses)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		ws, err := findWorkspace(ctx, daemonClient(), args[0])
		if err != nil {
			fail(err)
		}
		printResult(ws)
	},
}

var wsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace",
	Example: `  rwsctl ws create --name demo \
    --project api=git@github.com:org/api.git#main:feature-x \
    --project web=https://gitlab.example.com/team/web.git`,
	Run: func(cmd *cobra.Command, args []string) {
		projects, err := parseProjects(wsProjects)
		if err != nil {
			fail(err)
		}
		req := api.CreateWorkspaceRequest{Name: wsName, Owner: wsOwner, Projects: projects}
		if appErr := req.Validate(); appErr != nil {
			fail(appErr)
		}

		ctx, cancel := requestContext()
		defer cancel()

		id, err := daemonClient().CreateWorkspace(ctx, req, uuid.New().String())
		if err != nil {
			fail(err)
		}
		fmt.Printf("Workspace created.\n")
		fmt.Printf("ID: %s\n", id)
		fmt.Printf("Check status: rwsctl workspace get %s\n", id)
	},
}

var wsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a workspace's name, owner and projects",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projects, err := parseProjects(wsProjects)
		if err != nil {
			fail(err)
		}
		req := api.UpdateWorkspaceRequest{Port: wsPort, Name: wsName, Owner: wsOwner, Projects: projects}
		if appErr := req.Validate(); appErr != nil {
			fail(appErr)
		}

		ctx, cancel := requestContext()
		defer cancel()

		if err := daemonClient().UpdateWorkspace(ctx, args[0], req); err != nil {
			fail(err)
		}
		fmt.Printf("Workspace %s updated.\n", args[0])
	},
}

var wsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		if err := daemonClient().DeleteWorkspace(ctx, args[0]); err != nil {
			fail(err)
		}
		fmt.Printf("Workspace %s deleted.\n", args[0])
	},
}

var wsLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Print the workspace container log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		text, err := daemonClient().WorkspaceLog(ctx, args[0])
		if err != nil {
			fail(err)
		}
		fmt.Print(text)
	},
}

var wsOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open a workspace in the editor through the client host",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		host := hostClient()
		ws, err := findWorkspace(ctx, host, args[0])
		if err != nil {
			fail(err)
		}
		if err := host.Launch(ctx, ws, wsProject); err != nil {
			fail(err)
		}
		fmt.Printf("Editor launched for %s.\n", ws.ID)
	},
}

func init() {
	for _, c := range []*cobra.Command{wsCreateCmd, wsUpdateCmd} {
		c.Flags().StringVar(&wsName, "name", "", "Workspace name")
		c.Flags().StringVar(&wsOwner, "owner", "", "Workspace owner")
		c.Flags().StringArrayVarP(&wsProjects, "project", "p", nil, "Project as name=url[#branch[:newBranch]] (repeatable)")
		c.MarkFlagRequired("name")
	}
	wsUpdateCmd.Flags().Uint16Var(&wsPort, "port", 0, "Current port of the workspace (ports cannot change)")
	wsOpenCmd.Flags().StringVar(&wsProject, "project", "", "Open this project's folder")

	workspaceCmd.AddCommand(wsListCmd, wsGetCmd, wsCreateCmd, wsUpdateCmd, wsDeleteCmd, wsLogCmd, wsOpenCmd)
	rootCmd.AddCommand(workspaceCmd)
}

// findWorkspace looks id up in the status list served by c. Going through
// the client host also refreshes the local ssh config.
func findWorkspace(ctx context.Context, c *apiclient.Client, id string) (core.WorkspaceStatus, error) {
	statuses, err := c.ListWorkspaces(ctx)
	if err != nil {
		return core.WorkspaceStatus{}, err
	}
	for _, ws := range statuses {
		if ws.ID == id {
			return ws, nil
		}
	}
	return core.WorkspaceStatus{}, core.NewAppError(core.ErrNotFound, "workspace "+id+" not found")
}
