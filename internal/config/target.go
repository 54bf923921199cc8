package config

// Target is the fully resolved destination of a push.
type Target struct {
	RemoteName string
	Remote     Remote
	Branch     string
	Prefix     string
	Exclude    []string
}

// Overrides are command-line values that take precedence over configuration.
type Overrides struct {
	Remote string
	Branch string
	Prefix string
}

// Resolve combines flags, workspace and global configuration. Flags win over
// the workspace, the workspace over the remote's settings, and the branch
// falls back to "main". Exclusion patterns from global and workspace
// configuration are both applied.
func Resolve(g *GlobalConfig, ws *Workspace, o Overrides) (*Target, error) {
	if ws == nil {
		ws = &Workspace{}
	}

	remoteName := firstNonEmpty(o.Remote, ws.Remote)
	name, remote, err := g.Remote(remoteName)
	if err != nil {
		return nil, err
	}
	if err := remote.Validate(); err != nil {
		return nil, err
	}

	prefix := firstNonEmpty(o.Prefix, ws.Prefix)
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	exclude := append([]string{}, g.Push.Exclude...)
	exclude = append(exclude, ws.Exclude...)

	return &Target{
		RemoteName: name,
		Remote:     remote,
		Branch:     firstNonEmpty(o.Branch, ws.Branch, remote.Branch, DefaultBranch),
		Prefix:     prefix,
		Exclude:    exclude,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
