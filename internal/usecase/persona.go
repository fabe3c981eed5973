package usecase

import (
	"strconv"
	"strings"
	"sync"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// shortIDLength is how many characters of the user id go into a default name
const shortIDLength = 5

// PersonaGenerator hands out default display names derived from user ids.
// Names stay reserved until released so two live users never share one.
type PersonaGenerator struct {
	mu       sync.RWMutex
	existing map[string]bool
}

// NewPersonaGenerator creates a new PersonaGenerator
func NewPersonaGenerator() *PersonaGenerator {
	return &PersonaGenerator{
		existing: make(map[string]bool),
	}
}

// Generate returns "User_" plus the first five characters of id. When that name
// is taken the prefix is lengthened until it is unique. Once the whole id is
// used a numeric suffix is added.
func (pg *PersonaGenerator) Generate(id string) string {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	short := strings.ReplaceAll(id, "-", "")
	if short == "" {
		short = "anon"
	}

	n := min(shortIDLength, len(short))
	name := domain.DisplayNamePrefix + short[:n]
	for pg.existing[name] && n < len(short) {
		n++
		name = domain.DisplayNamePrefix + short[:n]
	}
	// Nothing left to lengthen: number the name
	base := name
	for i := 2; pg.existing[name]; i++ {
		name = base + "-" + strconv.Itoa(i)
	}

	pg.existing[name] = true
	return name
}

// Reserve marks a name as taken, e.g. for records restored from a snapshot
func (pg *PersonaGenerator) Reserve(name string) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.existing[name] = true
}

// Release removes a name from the active set
func (pg *PersonaGenerator) Release(name string) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	delete(pg.existing, name)
}

// ActiveCount returns the number of reserved names
func (pg *PersonaGenerator) ActiveCount() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return len(pg.existing)
}
