package core

// GitURLInfo identifies a repository on a hosting service. It is
// comparable and used as a map key for deduplication.
type GitURLInfo struct {
	Host    string `json:"host"`
	Project string `json:"project"`
}

type PullMergeRequestInfo struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	State        string `json:"state"`
	Host         string `json:"host"`
	Project      string `json:"project"`
	SourceBranch string `json:"sourceBranch"`
	TargetBranch string `json:"targetBranch"`
}

// PullMergeRequestKey is the identity used to match a project against
// fetched pull/merge requests.
type PullMergeRequestKey struct {
	Host         string
	Project      string
	SourceBranch string
	TargetBranch string
}

func (i PullMergeRequestInfo) Key() PullMergeRequestKey {
	return PullMergeRequestKey{
		Host:         i.Host,
		Project:      i.Project,
		SourceBranch: i.SourceBranch,
		TargetBranch: i.TargetBranch,
	}
}

// PullMergeRequestLink is attached to a project in status responses. For
// synthesized "create" links State is empty.
type PullMergeRequestLink struct {
	Text  string `json:"text"`
	URL   string `json:"url"`
	State string `json:"state,omitempty"`
}
