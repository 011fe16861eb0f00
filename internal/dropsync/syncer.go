package dropsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultPattern = "*.json"

type SyncerOptions struct {
	LocalRoot string
	StateFile string
	// TargetTab files every card under one existing tab instead of letting
	// each document bring its own tabs.
	TargetTab int
	Pattern   string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Syncer uploads export documents dropped into a directory. A file is sent
// again only when its content changes.
type Syncer struct {
	client    RemoteClient
	localRoot string
	stateFile string
	target    int
	pattern   string
	log       zerolog.Logger
	now       func() time.Time
	state     dropState
	loaded    bool
}

type dropState struct {
	Files map[string]uploadedFile `json:"files"`
}

type uploadedFile struct {
	Hash        string   `json:"hash"`
	UploadedAt  string   `json:"uploadedAt"`
	Tabs        []int    `json:"tabs,omitempty"`
	Cards       int      `json:"cards"`
	Rejected    bool     `json:"rejected,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Report summarises one SyncOnce pass.
type Report struct {
	Uploaded []string
	Rejected []string
	Skipped  int
}

func NewSyncer(client RemoteClient, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	localRootRaw := strings.TrimSpace(opts.LocalRoot)
	if localRootRaw == "" {
		return nil, fmt.Errorf("local root is required")
	}
	localRoot := filepath.Clean(localRootRaw)
	pattern := strings.TrimSpace(opts.Pattern)
	if pattern == "" {
		pattern = defaultPattern
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(localRoot, ".cardbuilder-drop-state")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return nil, err
	}
	return &Syncer{
		client:    client,
		localRoot: localRoot,
		stateFile: stateFile,
		target:    opts.TargetTab,
		pattern:   pattern,
		log:       opts.Logger.With().Str("component", "dropsync").Logger(),
		now:       now,
		state: dropState{
			Files: map[string]uploadedFile{},
		},
	}, nil
}

func (s *Syncer) LocalRoot() string {
	return s.localRoot
}

// Matches reports whether a path inside the drop directory is an upload
// candidate.
func (s *Syncer) Matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if abs, err := filepath.Abs(path); err == nil {
		if stateAbs, err := filepath.Abs(s.stateFile); err == nil && abs == stateAbs {
			return false
		}
	}
	ok, _ := filepath.Match(s.pattern, name)
	return ok
}

// SyncOnce uploads every new or changed file. A document the server refuses
// is remembered by hash and left alone until it is edited. State is saved
// even when an upload fails part way.
func (s *Syncer) SyncOnce(ctx context.Context) (Report, error) {
	var report Report
	if err := s.loadState(); err != nil {
		return report, err
	}
	files, err := s.scanLocalFiles()
	if err != nil {
		return report, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var uploadErr error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			uploadErr = err
			break
		}
		data := files[name]
		hash := hashBytes(data)
		if tracked, ok := s.state.Files[name]; ok && tracked.Hash == hash {
			report.Skipped++
			continue
		}

		result, err := s.client.Import(ctx, data, s.target)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.Rejected() {
				s.log.Warn().Str("file", name).Int("status", httpErr.StatusCode).Str("code", httpErr.Code).Msg(httpErr.Message)
				s.state.Files[name] = uploadedFile{
					Hash:        hash,
					UploadedAt:  s.now().UTC().Format(time.RFC3339),
					Rejected:    true,
					Diagnostics: []string{httpErr.Message},
				}
				report.Rejected = append(report.Rejected, name)
				continue
			}
			uploadErr = fmt.Errorf("upload %s: %w", name, err)
			break
		}

		tabs := make([]int, 0, len(result.Tabs))
		for _, tab := range result.Tabs {
			tabs = append(tabs, tab.ID)
		}
		s.state.Files[name] = uploadedFile{
			Hash:        hash,
			UploadedAt:  s.now().UTC().Format(time.RFC3339),
			Tabs:        tabs,
			Cards:       result.Cards,
			Diagnostics: result.Diagnostics,
		}
		report.Uploaded = append(report.Uploaded, name)
		s.log.Info().Str("file", name).Ints("tabs", tabs).Int("cards", result.Cards).Int("diagnostics", len(result.Diagnostics)).Msg("imported")
	}

	if uploadErr == nil {
		for name := range s.state.Files {
			if _, ok := files[name]; !ok {
				delete(s.state.Files, name)
			}
		}
	}
	if err := s.saveState(); err != nil {
		return report, errors.Join(uploadErr, err)
	}
	return report, uploadErr
}

func (s *Syncer) scanLocalFiles() (map[string][]byte, error) {
	entries, err := os.ReadDir(s.localRoot)
	if err != nil {
		return nil, err
	}
	results := map[string][]byte{}
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.localRoot, entry.Name())
		if !s.Matches(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		results[entry.Name()] = data
	}
	return results, nil
}

func (s *Syncer) loadState() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state.Files = map[string]uploadedFile{}
			return nil
		}
		return err
	}
	var state dropState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Files == nil {
		state.Files = map[string]uploadedFile{}
	}
	s.state = state
	return nil
}

func (s *Syncer) saveState() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.stateFile, data, 0o644)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
