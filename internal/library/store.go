package library

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/session"
)

// DecodeFunc decodes one audio file to interleaved stereo int16 PCM.
// Injectable so tests run without FFmpeg.
type DecodeFunc func(ctx context.Context, path string) ([]int16, error)

// stemExts are the extensions tried, in order, when resolving a stem file.
var stemExts = []string{".mp3", ".wav", ".flac", ".m4a", ".ogg"}

// Store buffers decoded audio: the clock track plus the stem sets of the
// catalog entries. The selected set is loaded up front; the rest arrive from
// background prefetch. Buffers outlive a session, so a reconnect is cheap.
type Store struct {
	catalog *Catalog
	decode  DecodeFunc

	mu       sync.Mutex
	clock    []int16
	sets     map[string]audio.Stems
	selected string
}

// NewStore creates a store over the catalog. A nil decode uses FFmpeg.
func NewStore(cat *Catalog, decode DecodeFunc) *Store {
	if decode == nil {
		decode = audio.DecodeFile
	}
	return &Store{
		catalog: cat,
		decode:  decode,
		sets:    make(map[string]audio.Stems),
	}
}

// Catalog returns the read-only catalog the store was built from.
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// Select updates the current selection. The reference is always-current: a
// background load finishing later consults it fresh rather than a snapshot
// taken when the load began.
func (s *Store) Select(id string) error {
	if _, ok := s.catalog.Entry(id); !ok {
		return fmt.Errorf("select %q: %w", id, session.ErrNoSelection)
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	return nil
}

// Selected returns the current selection, empty when none was made.
func (s *Store) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Clock returns the decoded clock buffer, nil before LoadPriority.
func (s *Store) Clock() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Stems returns the buffered stem set for a track, reporting whether it has
// been loaded.
func (s *Store) Stems(id string) (audio.Stems, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sets[id]
	return st, ok
}

// Loaded reports whether a track's stem set is buffered.
func (s *Store) Loaded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[id]
	return ok
}

// LoadPriority decodes the clock and the selected stem set, blocking until
// both are ready. A clock that cannot be decoded, or a selected set whose
// present stems all fail, aborts the connect.
func (s *Store) LoadPriority(ctx context.Context) error {
	s.mu.Lock()
	id := s.selected
	haveClock := s.clock != nil
	_, haveSet := s.sets[id]
	s.mu.Unlock()

	if id == "" {
		return session.ErrNoSelection
	}

	if !haveClock {
		pcm, err := s.decode(ctx, s.catalog.Clock)
		if err != nil {
			return fmt.Errorf("%w: clock: %v", session.ErrAssetLoad, err)
		}
		s.mu.Lock()
		s.clock = pcm
		s.mu.Unlock()
	}

	if !haveSet {
		entry, _ := s.catalog.Entry(id)
		stems, err := s.loadSet(ctx, entry, true)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.sets[id] = stems
		s.mu.Unlock()
	}
	return nil
}

// PrefetchRest loads every not-yet-buffered stem set concurrently, one task
// per track, each independently cancellable through ctx. Failures are logged
// and the track simply stays unloaded; nothing here is fatal.
func (s *Store) PrefetchRest(ctx context.Context) {
	var wg sync.WaitGroup
	for _, entry := range s.catalog.Tracks {
		if s.Loaded(entry.ID) {
			continue
		}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			stems, err := s.loadSet(ctx, e, false)
			if err != nil {
				log.Printf("library: prefetch %s: %v", e.ID, err)
				return
			}
			s.mu.Lock()
			if _, dup := s.sets[e.ID]; !dup {
				s.sets[e.ID] = stems
			}
			s.mu.Unlock()
		}(entry)
	}
	wg.Wait()
}

// loadSet decodes the four conventional stem files under the entry's dir.
// A missing file is a silent channel. A decode failure on a file that exists
// is fatal in strict mode (the priority load) and a logged silent channel
// otherwise.
func (s *Store) loadSet(ctx context.Context, e Entry, strict bool) (audio.Stems, error) {
	var st audio.Stems
	found := 0
	for _, role := range audio.StemRoles {
		path, ok := resolveStem(e.Dir, role.String())
		if !ok {
			continue
		}
		pcm, err := s.decode(ctx, path)
		if err != nil {
			if strict {
				return audio.Stems{}, fmt.Errorf("%w: %s/%s: %v", session.ErrAssetLoad, e.ID, role, err)
			}
			log.Printf("library: %s/%s: %v", e.ID, role, err)
			continue
		}
		setStem(&st, role, pcm)
		found++
	}
	if strict && found == 0 {
		return audio.Stems{}, fmt.Errorf("%w: %s: no stems found in %s", session.ErrAssetLoad, e.ID, e.Dir)
	}
	return st, nil
}

// resolveStem finds the first existing file named <role><ext> under dir.
func resolveStem(dir, role string) (string, bool) {
	for _, ext := range stemExts {
		p := filepath.Join(dir, role+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func setStem(st *audio.Stems, role audio.Role, pcm []int16) {
	switch role {
	case audio.RoleAccompaniment:
		st.Accompaniment = pcm
	case audio.RoleBass:
		st.Bass = pcm
	case audio.RoleDrums:
		st.Drums = pcm
	case audio.RoleVocals:
		st.Vocals = pcm
	}
}
