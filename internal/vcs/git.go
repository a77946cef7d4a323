package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/pkg/types"
)

const (
	shortHashLen   = 7
	blameCacheSize = 128
)

// GitRepository implements VersionControl with go-git. Calls are serialized
// because go-git repositories are not safe for concurrent use.
type GitRepository struct {
	mu     sync.Mutex
	repo   *git.Repository
	prefix string // indexed root relative to the worktree root, slash form
	logger *slog.Logger

	blames  *lru.Cache[string, *git.BlameResult]
	commits *lru.Cache[plumbing.Hash, types.CommitContext]
}

var _ VersionControl = (*GitRepository)(nil)

// Open finds the repository containing root. When there is none, or it cannot
// be opened, Unavailable is returned so callers never need a nil check.
func Open(root string, logger *slog.Logger) VersionControl {
	logger = logging.OrDefault(logger)
	repo, err := OpenGit(root, logger)
	if err != nil {
		logger.Warn("version control unavailable", slog.String("path", root), slog.String("error", err.Error()))
		return Unavailable{}
	}
	return repo
}

// OpenGit opens the repository containing root
func OpenGit(root string, logger *slog.Logger) (*GitRepository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	top := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}
	rel, err := filepath.Rel(top, abs)
	if err != nil {
		return nil, err
	}
	prefix := filepath.ToSlash(rel)
	if prefix == "." {
		prefix = ""
	}

	blames, _ := lru.New[string, *git.BlameResult](blameCacheSize)
	commits, _ := lru.New[plumbing.Hash, types.CommitContext](blameCacheSize * 4)

	return &GitRepository{
		repo:    repo,
		prefix:  prefix,
		logger:  logging.OrDefault(logger),
		blames:  blames,
		commits: commits,
	}, nil
}

func (g *GitRepository) Available() bool { return true }

// toRepoPath maps an indexed-root path to a worktree path
func (g *GitRepository) toRepoPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	if g.prefix == "" {
		return p
	}
	return path.Join(g.prefix, p)
}

// fromRepoPath maps a worktree path back to the indexed root when it lies inside it
func (g *GitRepository) fromRepoPath(p string) string {
	if g.prefix == "" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, g.prefix+"/"); ok {
		return rest
	}
	return p
}

func (g *GitRepository) head() (*object.Commit, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return nil, err
	}
	return g.repo.CommitObject(ref.Hash())
}

func wrap(err error) error {
	return &types.CapabilityError{Capability: CapabilityName, Err: err}
}

// CommitsTouchingLines blames path at HEAD and resolves every commit owning a
// line in [start, end]. Files missing from HEAD have no commits.
func (g *GitRepository) CommitsTouchingLines(ctx context.Context, p string, start, end int) ([]types.CommitContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	blame, err := g.blame(g.toRepoPath(p))
	if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, object.ErrFileNotFound) {
		return []types.CommitContext{}, nil
	}
	if err != nil {
		return nil, wrap(err)
	}

	seen := make(map[plumbing.Hash]bool)
	var hashes []plumbing.Hash
	for i, line := range blame.Lines {
		n := i + 1
		if n < start || n > end || seen[line.Hash] {
			continue
		}
		seen[line.Hash] = true
		hashes = append(hashes, line.Hash)
	}

	out := make([]types.CommitContext, 0, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cc, err := g.commitContext(ctx, h)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, cc)
	}
	sortRecentFirst(out)
	return out, nil
}

func (g *GitRepository) blame(repoPath string) (*git.BlameResult, error) {
	head, err := g.head()
	if err != nil {
		return nil, err
	}
	key := head.Hash.String() + ":" + repoPath
	if b, ok := g.blames.Get(key); ok {
		return b, nil
	}
	b, err := git.Blame(head, repoPath)
	if err != nil {
		return nil, err
	}
	g.blames.Add(key, b)
	return b, nil
}

// CommitsForFile walks history from HEAD in committer-time order
func (g *GitRepository) CommitsForFile(ctx context.Context, p string, limit int) ([]types.CommitContext, error) {
	if limit <= 0 {
		return []types.CommitContext{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repoPath := g.toRepoPath(p)
	iter, err := g.repo.Log(&git.LogOptions{FileName: &repoPath, Order: git.LogOrderCommitterTime})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []types.CommitContext{}, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	defer iter.Close()

	out := make([]types.CommitContext, 0, limit)
	for len(out) < limit {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrap(err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cc, err := g.commitContext(ctx, c.Hash)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, cc)
	}
	return out, nil
}

// commitContext loads and summarizes one commit. Changed files and line
// counts come from the diff against the first parent.
func (g *GitRepository) commitContext(ctx context.Context, h plumbing.Hash) (types.CommitContext, error) {
	if cc, ok := g.commits.Get(h); ok {
		return cc, nil
	}

	c, err := g.repo.CommitObject(h)
	if err != nil {
		return types.CommitContext{}, err
	}

	cc := types.CommitContext{
		Hash:    h.String()[:shortHashLen],
		Author:  c.Author.Name,
		Date:    c.Committer.When,
		Message: strings.TrimSpace(c.Message),
	}

	stats, err := c.StatsContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return types.CommitContext{}, ctx.Err()
		}
		// Summary without stats is still useful; leave it uncached
		g.logger.Debug("commit stats unavailable", slog.String("commit", cc.Hash), slog.String("error", err.Error()))
		return cc, nil
	}
	for _, s := range stats {
		cc.ChangedFiles = append(cc.ChangedFiles, g.fromRepoPath(s.Name))
		cc.Insertions += s.Addition
		cc.Deletions += s.Deletion
	}
	sort.Strings(cc.ChangedFiles)

	g.commits.Add(h, cc)
	return cc, nil
}

func sortRecentFirst(commits []types.CommitContext) {
	sort.SliceStable(commits, func(i, j int) bool {
		if !commits[i].Date.Equal(commits[j].Date) {
			return commits[i].Date.After(commits[j].Date)
		}
		return commits[i].Hash < commits[j].Hash
	})
}
