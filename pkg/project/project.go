// Package project holds the per-project state the scheduler mutates:
// input file pools, toolchain activity, dependency order, and the
// artifact ledger fingerprint lookup. It deliberately does not import
// pkg/tool — see pkg/tool's doc comment for why that import runs only one
// way.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

// Project is one unit of the build: a working directory, a toolchain
// instance, and the pools of files flowing through it.
type Project struct {
	Name string

	WorkingDir      string
	IntermediateDir string
	OutputDir       string

	// CsbuildDir is the hidden per-project build directory holding the
	// persisted ledger, e.g. ".csforge/<project>".
	CsbuildDir string

	// Architecture, Platform, and Target are the keys a toolchain
	// instance is selected by; the core only threads them through, it
	// never interprets them.
	Architecture string
	Platform     string
	Target       string

	Toolchain *toolchain.State

	// Dependencies is the ordered list of upstream projects.
	Dependencies []*Project

	pools map[string]*inputfile.Pool

	// lastRunArtifacts maps a fingerprint of an ordered input-path tuple
	// to the output paths produced for it on the previous run.
	lastRunArtifacts map[string][]string

	// newArtifacts accumulates this run's AddArtifact calls, written out
	// to replace lastRunArtifacts at the end of a successful run.
	newArtifacts map[string][]string
}

// New creates a project with an empty input pool set. tools is the
// complete, fixed toolchain assigned to it.
func New(name, workingDir, intermediateDir, outputDir string, tools []toolchain.ToolInfo) *Project {
	return &Project{
		Name:             name,
		WorkingDir:       workingDir,
		IntermediateDir:  intermediateDir,
		OutputDir:        outputDir,
		CsbuildDir:       filepath.Join(workingDir, ".csforge", name),
		Toolchain:        toolchain.NewState(tools),
		pools:            make(map[string]*inputfile.Pool),
		lastRunArtifacts: make(map[string][]string),
		newArtifacts:     make(map[string][]string),
	}
}

// Pool returns the input file pool for ext, creating it on first use.
func (p *Project) Pool(ext string) *inputfile.Pool {
	pool, ok := p.pools[ext]
	if !ok {
		pool = inputfile.NewPool()
		p.pools[ext] = pool
	}
	return pool
}

// Exts returns the extensions that currently have a non-nil pool,
// including ones that have been emptied by exclusive consumption.
func (p *Project) Exts() []string {
	out := make([]string, 0, len(p.pools))
	for ext := range p.pools {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// AddInput registers f in the pool for its own extension.
func (p *Project) AddInput(f *inputfile.File) {
	p.Pool(f.Ext()).Add(f)
}

// fingerprint computes a stable hash of an ordered tuple of input paths.
func fingerprint(inputs []*inputfile.File) string {
	paths := make([]string, len(inputs))
	for i, f := range inputs {
		paths[i] = f.Path
	}
	h := sha256.Sum256([]byte(strings.Join(paths, "\x00")))
	return hex.EncodeToString(h[:])
}

// GetLastResult returns the output paths recorded for this exact ordered
// set of inputs on the previous run, or nil if there is no prior record.
func (p *Project) GetLastResult(inputs []*inputfile.File) []string {
	outs, ok := p.lastRunArtifacts[fingerprint(inputs)]
	if !ok {
		return nil
	}
	return outs
}

// AddArtifact records that inputs produced outputs on this run. Call on
// every successful (non-skipped) task completion.
func (p *Project) AddArtifact(inputs []*inputfile.File, outputs []string) {
	p.newArtifacts[fingerprint(inputs)] = outputs
}

// CarryForwardSkipped re-records a skipped task's prior outputs as this
// run's artifact for the same input set, so the ledger stays accurate
// after a run that performed no work.
func (p *Project) CarryForwardSkipped(inputs []*inputfile.File) {
	key := fingerprint(inputs)
	if outs, ok := p.lastRunArtifacts[key]; ok {
		p.newArtifacts[key] = outs
	}
}

// LastRunArtifacts returns the full fingerprint-to-outputs mapping loaded
// from the previous run, for use by clean mode.
func (p *Project) LastRunArtifacts() map[string][]string {
	return p.lastRunArtifacts
}

// LoadArtifacts seeds the previous run's ledger, normally called by the
// driver package right after it opens the project's ledger.
func (p *Project) LoadArtifacts(artifacts map[string][]string) {
	p.lastRunArtifacts = artifacts
}

// CommitArtifacts replaces lastRunArtifacts with this run's accumulated
// artifacts and returns the new mapping for persistence. Call once at
// successful termination.
func (p *Project) CommitArtifacts() map[string][]string {
	p.lastRunArtifacts = p.newArtifacts
	p.newArtifacts = make(map[string][]string)
	return p.lastRunArtifacts
}

// expandHomeDir expands a leading "~" or "~/..." using the current user's
// home directory.
func expandHomeDir(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// ResolveProjectRoot expands and cleans a user-supplied project root path.
func ResolveProjectRoot(path string) (string, error) {
	expanded, err := expandHomeDir(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
