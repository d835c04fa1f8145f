// Package skills resolves skill bundles straight off disk for standalone
// mode (managed mode resolves the same shape from store.SkillStore instead).
//
// A skill lives under <root>/<name>/SKILL.md: a YAML-style frontmatter block
// (---\nname: ...\ndescription: ...\n---) followed by the prompt context the
// skill contributes to an agent's system prompt.
package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Skill is one loaded bundle: a name, a short description used for the
// inlined summary, and the prompt content contributed verbatim.
type Skill struct {
	Name        string
	Description string
	Content     string
	Path        string
}

// Loader scans a root directory for skill bundles and serves them from an
// in-memory cache, reloaded on demand via Reload or automatically by the
// filesystem watcher that Watch starts.
type Loader struct {
	mu     sync.RWMutex
	root   string
	skills map[string]Skill
}

// NewLoader creates a Loader rooted at dir and performs an initial scan.
// A missing or unreadable root directory is not an error: the loader simply
// starts empty, matching the "skills are optional" posture the rest of the
// agent package assumes (nil-safe SkillsLoader).
func NewLoader(dir string) *Loader {
	l := &Loader{root: dir, skills: make(map[string]Skill)}
	_ = l.Reload()
	return l
}

// Reload rescans the root directory, replacing the cached skill set.
func (l *Loader) Reload() error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		l.mu.Lock()
		l.skills = make(map[string]Skill)
		l.mu.Unlock()
		return err
	}

	next := make(map[string]Skill, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		skillPath := filepath.Join(l.root, name, "SKILL.md")
		raw, err := os.ReadFile(skillPath)
		if err != nil {
			continue
		}
		desc, content := parseFrontmatter(string(raw))
		next[name] = Skill{Name: name, Description: desc, Content: content, Path: skillPath}
	}

	l.mu.Lock()
	l.skills = next
	l.mu.Unlock()
	return nil
}

// List returns every loaded skill, sorted by name.
func (l *Loader) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a single skill by name.
func (l *Loader) Get(name string) (Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// FilterSkills returns the loaded skills restricted to allow. A nil allow
// list means "all skills"; an empty-but-non-nil list means "none", matching
// the Loop.skillAllowList convention (nil = all, [] = none, [...] = filter).
func (l *Loader) FilterSkills(allow []string) []Skill {
	all := l.List()
	if allow == nil {
		return all
	}
	if len(allow) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(allow))
	for _, a := range allow {
		allowed[a] = struct{}{}
	}
	out := make([]Skill, 0, len(all))
	for _, s := range all {
		if _, ok := allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// BuildSummary renders the allowed skills as an inlined XML block for the
// system prompt: <available_skills><skill name="..."><description>...
// </description></skill>...</available_skills>.
func (l *Loader) BuildSummary(allow []string) string {
	filtered := l.FilterSkills(allow)
	if len(filtered) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, s := range filtered {
		b.WriteString("  <skill name=\"")
		b.WriteString(escapeAttr(s.Name))
		b.WriteString("\">\n    <description>")
		b.WriteString(s.Description)
		b.WriteString("</description>\n  </skill>\n")
	}
	b.WriteString("</available_skills>")
	return b.String()
}

// parseFrontmatter splits a SKILL.md file into its description (from the
// frontmatter's "description:" key) and body. Files without a frontmatter
// block are treated as body-only with an empty description.
func parseFrontmatter(raw string) (description, body string) {
	const marker = "---"
	trimmed := strings.TrimLeft(raw, "\n")
	if !strings.HasPrefix(trimmed, marker) {
		return "", raw
	}
	rest := trimmed[len(marker):]
	end := strings.Index(rest, "\n"+marker)
	if end == -1 {
		return "", raw
	}
	header := rest[:end]
	body = strings.TrimLeft(rest[end+len(marker)+1:], "\n")

	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "description" {
			description = strings.TrimSpace(val)
		}
	}
	return description, body
}

// Watch starts a background fsnotify watcher on the root directory and every
// currently-loaded skill's subdirectory, calling Reload whenever a SKILL.md
// is created, written, or removed. It runs until ctx is cancelled. A watcher
// setup failure is logged and treated as non-fatal: skills are still served
// from the last successful scan, just without hot-reload.
func (l *Loader) Watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("skills: watcher unavailable, hot-reload disabled", "error", err)
		return
	}

	addWatchTargets := func() {
		if err := w.Add(l.root); err != nil {
			return
		}
		for _, s := range l.List() {
			_ = w.Add(filepath.Dir(s.Path))
		}
	}
	addWatchTargets()

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "SKILL.md" && ev.Op&fsnotify.Create == 0 {
					continue
				}
				if err := l.Reload(); err != nil {
					slog.Warn("skills: reload after fs event failed", "error", err)
					continue
				}
				addWatchTargets()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("skills: watcher error", "error", err)
			}
		}
	}()
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
