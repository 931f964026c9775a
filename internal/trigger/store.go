// Package trigger owns the shared trigger rule set and the server-side
// throttle applied to incoming trigger events. Rule configuration (persisted,
// see wire.TriggerRule) and runtime window counters are kept strictly apart.
package trigger

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

// Store is the rule table plus its on-disk container. Mutated only from the
// dispatcher goroutine.
type Store struct {
	path   string
	rules  []wire.TriggerRule
	nextID uint16
	log    *zap.Logger
}

// Load reads the rule container at path. A missing file is an empty set.
func Load(path string) *Store {
	s := &Store{path: path, log: logger.L().Named("trigger")}
	if err := s.load(); err != nil {
		s.log.Error("load trigger set", zap.String("path", path), zap.Error(err))
	}
	return s
}

// Add appends rules, assigning fresh monotonic ids. A rule whose title
// matches an existing one (case-insensitive) replaces it. Persists once.
func (s *Store) Add(rules []wire.TriggerRule) {
	for _, r := range rules {
		if _, err := regexp.Compile(r.Regex); err != nil {
			// Kept anyway: clients own the matching, the server only relays.
			s.log.Warn("trigger regex does not compile",
				zap.String("title", r.Title), zap.Error(err))
		}
		s.removeByTitle(r.Title)
		r.ID = s.nextID
		s.nextID++
		s.rules = append(s.rules, r)
	}
	s.Save()
}

// Remove drops the rule with the given title (case-insensitive) and persists.
func (s *Store) Remove(title string) bool {
	if !s.removeByTitle(title) {
		return false
	}
	s.Save()
	return true
}

func (s *Store) removeByTitle(title string) bool {
	for i := range s.rules {
		if strings.EqualFold(s.rules[i].Title, title) {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ByID returns the rule with the given id, or nil.
func (s *Store) ByID(id uint16) *wire.TriggerRule {
	for i := range s.rules {
		if s.rules[i].ID == id {
			return &s.rules[i]
		}
	}
	return nil
}

// ByTitle returns the rule with the given title (case-insensitive), or nil.
func (s *Store) ByTitle(title string) *wire.TriggerRule {
	for i := range s.rules {
		if strings.EqualFold(s.rules[i].Title, title) {
			return &s.rules[i]
		}
	}
	return nil
}

// All returns a copy of the rule set in id order.
func (s *Store) All() []wire.TriggerRule {
	out := make([]wire.TriggerRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Save writes the zlib container. Failures are logged, memory stays
// authoritative.
func (s *Store) Save() {
	f, err := os.Create(s.path)
	if err != nil {
		s.log.Error("save trigger set", zap.String("path", s.path), zap.Error(err))
		return
	}
	defer f.Close()
	if err := s.write(f); err != nil {
		s.log.Error("save trigger set", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *Store) write(w io.Writer) error {
	zw := zlib.NewWriter(w)
	desc := wire.TriggerDesc{Cmd: wire.TriggerCmdAdd, Rules: s.rules}
	if err := desc.EncodeRaw(zw); err != nil {
		return err
	}
	return zw.Close()
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return s.read(f)
}

func (s *Store) read(r io.Reader) error {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	var desc wire.TriggerDesc
	if err := desc.DecodeRaw(bufio.NewReader(zr)); err != nil {
		return err
	}
	s.rules = desc.Rules
	for i := range s.rules {
		// Reassign ids on load so the counter stays monotonic across restarts.
		s.rules[i].ID = s.nextID
		s.nextID++
	}
	return nil
}
