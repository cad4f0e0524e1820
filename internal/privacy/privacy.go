// Package privacy anonymizes user records for domain backups.
package privacy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pezi/treedb/internal/model"
)

// Flag marks a personal field that survives anonymization.
type Flag uint8

const (
	KeepName Flag = 1 << iota
	KeepPhone
	KeepMobile
	KeepExternalID
)

var flagNames = map[string]Flag{
	"name":     KeepName,
	"phone":    KeepPhone,
	"mobile":   KeepMobile,
	"external": KeepExternalID,
}

// Filter selects which personal fields are retained. The zero Filter keeps
// nothing.
type Filter struct {
	Keep  Flag
	Names *Generator // nil uses a fresh generator
}

// ParseFlags turns a list like "name,phone" into flags.
func ParseFlags(list []string) (Flag, error) {
	var f Flag
	for _, s := range list {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		v, ok := flagNames[s]
		if !ok {
			return 0, fmt.Errorf("privacy: unknown field %q (want name, phone, mobile or external)", s)
		}
		f |= v
	}
	return f, nil
}

// Has reports whether all bits of o are set.
func (f Flag) Has(o Flag) bool { return f&o == o }

// Apply returns an anonymized clone of u; u itself is not modified. The
// password hash is always removed.
func (f *Filter) Apply(u *model.User) *model.User {
	if f.Names == nil {
		f.Names = NewGenerator()
	}
	c := u.Clone()
	c.PasswordHash = ""
	if !f.Keep.Has(KeepName) {
		p := f.Names.Next()
		c.FirstName = p.FirstName
		c.LastName = p.LastName
		c.DisplayName = p.FirstName + " " + p.LastName
		c.Email = p.Email
	}
	if !f.Keep.Has(KeepPhone) {
		c.Phone = ""
	}
	if !f.Keep.Has(KeepMobile) {
		c.Mobile = ""
	}
	if !f.Keep.Has(KeepExternalID) {
		c.ExternalID = ""
	}
	return c
}

// Pseudonym is a generated identity.
type Pseudonym struct {
	FirstName string
	LastName  string
	Email     string
}

var (
	firstNames = []string{"Alex", "Sam", "Robin", "Kim", "Jo", "Charlie", "Morgan", "Taylor", "Jamie", "Riley", "Avery", "Quinn"}
	lastNames  = []string{"Miller", "Berg", "Novak", "Silva", "Jansen", "Moreau", "Rossi", "Keller", "Larsen", "Kowalski", "Ortega"}
)

// Generator hands out pseudonyms. Names cycle through fixed lists; emails
// carry a random suffix so they never collide.
type Generator struct {
	n int
}

// NewGenerator returns a generator starting at the first name pair.
func NewGenerator() *Generator { return &Generator{} }

// Next returns the next pseudonym.
func (g *Generator) Next() Pseudonym {
	first := firstNames[g.n%len(firstNames)]
	last := lastNames[(g.n/len(firstNames)+g.n)%len(lastNames)]
	g.n++
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return Pseudonym{
		FirstName: first,
		LastName:  last,
		Email:     strings.ToLower(first+"."+last) + "." + suffix + "@example.invalid",
	}
}
