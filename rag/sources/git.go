package sources

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// GetGitRepositoryContent shallow-clones a repository and concatenates
// its text files, each prefixed with a "--- File: path ---" header so
// chunks keep their origin. privateKey is an optional base64-encoded SSH
// key for private repositories.
func GetGitRepositoryContent(ctx context.Context, url, privateKey string) (string, error) {
	tempDir, err := os.MkdirTemp("", "git-repo-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tempDir)

	cloneOptions := &git.CloneOptions{
		URL:           url,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.HEAD,
	}

	if privateKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			return "", err
		}
		auth, err := ssh.NewPublicKeys("git", keyBytes, "")
		if err != nil {
			return "", err
		}
		cloneOptions.Auth = auth
	}

	if _, err := git.PlainCloneContext(ctx, tempDir, false, cloneOptions); err != nil {
		return "", err
	}

	var content strings.Builder
	err = filepath.Walk(tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}
		if info.IsDir() || !isTextFile(path) {
			return nil
		}

		fileContent, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content.WriteString("\n--- File: " + strings.TrimPrefix(path, tempDir+"/") + " ---\n")
		content.Write(fileContent)
		content.WriteString("\n")
		return nil
	})
	if err != nil {
		return "", err
	}

	return content.String(), nil
}

// isTextFile reports whether a file looks ingestible by extension.
func isTextFile(path string) bool {
	textExtensions := map[string]bool{
		".txt": true, ".md": true, ".rst": true, ".adoc": true, ".tex": true,
		".csv": true, ".tsv": true, ".json": true, ".yaml": true, ".yml": true,
		".xml": true, ".html": true, ".htm": true, ".toml": true, ".ini": true,
		".conf": true, ".log": true, ".sql": true, ".proto": true,
		".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
		".c": true, ".cpp": true, ".h": true, ".rb": true, ".rs": true, ".sh": true,
	}
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}
