package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/lzjever/remote-workspace/internal/api"
	"github.com/lzjever/remote-workspace/internal/core"
)

func printResult(v interface{}) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []core.WorkspaceStatus:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tNAME\tOWNER\tPORT\tREADY\tPROJECTS\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\t%s\n",
				ws.ID, truncate(ws.Name, 30), ws.Owner, ws.Port, ws.Ready,
				truncate(projectSummary(ws.Projects), 50), ws.CreatedAt.Format("2006-01-02 15:04"))
		}
	case core.WorkspaceStatus:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Name:\t%s\n", data.Name)
		fmt.Fprintf(w, "Owner:\t%s\n", data.Owner)
		fmt.Fprintf(w, "Port:\t%d\n", data.Port)
		fmt.Fprintf(w, "Ready:\t%v\n", data.Ready)
		for _, p := range data.Projects {
			b := p.Git.Branches()
			line := fmt.Sprintf("%s (%s -> %s)", p.Git.URL, b.Source, b.Target)
			if pr := p.Git.PullMergeRequest; pr != nil {
				line += "  " + pr.Text
				if pr.State != "" {
					line += " [" + pr.State + "]"
				}
			}
			fmt.Fprintf(w, "Project %s:\t%s\n", p.Name, line)
		}
	case api.ReconcileHealthResponse:
		fmt.Fprintf(w, "Healthy:\t%v\n", data.Healthy)
		fmt.Fprintf(w, "Passes:\t%d\n", data.Passes)
		fmt.Fprintf(w, "Failures:\t%d (consecutive %d)\n", data.Failures, data.ConsecutiveFailures)
		fmt.Fprintf(w, "Last Seq:\t%d\n", data.LastSeq)
		if !data.LastFinishedAt.IsZero() {
			fmt.Fprintf(w, "Last Finished:\t%s\n", data.LastFinishedAt.Format("2006-01-02 15:04:05"))
		}
		if data.LastError != "" {
			fmt.Fprintf(w, "Last Error:\t%s\n", data.LastError)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func projectSummary(projects []core.RawWorkspaceProject) string {
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
