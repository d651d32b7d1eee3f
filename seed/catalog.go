/*
Package seed provides YAML/JSON to Go catalog conversion.

PURPOSE:
  Converts a seed document describing the module catalog and the user
  directory into access.Module and access.User values and writes them to a
  store. The engine treats both as read-only, so this is the only way they
  get populated.

SCHEMA (YAML; JSON is accepted too):
  modules:
    - id: fin-aprov
      name: Aprovador Financeiro
      description: Aprova pagamentos
      allowed_departments: [Financeiro]
      incompatible_modules: [fin-solic]
      active: true          # optional, default true
  users:
    - id: u1
      email: ana@empresa.com
      name: Ana
      department: Financeiro
      password: senha123    # hashed with bcrypt on load
      # or password_hash: $2a$10$...

KEY FEATURES:
  - Validates required fields and duplicate ids
  - Rejects incompatible_modules entries that name unknown modules
  - Hashes plain passwords, verifies pre-hashed ones are bcrypt

USAGE:
  catalog, err := seed.LoadFile("./data/seed.yaml")
  if err != nil {
      log.Fatal(err)
  }
  err = catalog.Apply(ctx, store)

SEE ALSO:
  - access/types.go: Module and User
  - default.yaml: the catalog used when no seed file is configured
*/
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/warp/access-engine/access"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// Document is the on-disk representation of a seed file.
type Document struct {
	Modules []ModuleDoc `yaml:"modules"`
	Users   []UserDoc   `yaml:"users"`
}

// ModuleDoc is one catalog entry.
type ModuleDoc struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description,omitempty"`
	AllowedDepartments  []string `yaml:"allowed_departments"`
	IncompatibleModules []string `yaml:"incompatible_modules,omitempty"`
	Active              *bool    `yaml:"active,omitempty"` // Default true
}

// UserDoc is one directory entry. Exactly one of Password and PasswordHash
// must be set.
type UserDoc struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Department   string `yaml:"department"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated seed, ready to be written to a store.
type Catalog struct {
	Modules []access.Module
	Users   []access.User
}

// CatalogWriter is implemented by both stores.
type CatalogWriter interface {
	SaveModule(ctx context.Context, m access.Module) error
	SaveUser(ctx context.Context, u access.User) error
}

// Default returns the built-in development catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads and parses a seed file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML or JSON seed document.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument validates doc and converts it to a Catalog.
func FromDocument(doc Document) (*Catalog, error) {
	catalog := &Catalog{}

	moduleIDs := make(map[string]bool, len(doc.Modules))
	for i, md := range doc.Modules {
		m, err := parseModule(md)
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
		if moduleIDs[m.ID] {
			return nil, fmt.Errorf("module %d: duplicate id %q", i, m.ID)
		}
		moduleIDs[m.ID] = true
		catalog.Modules = append(catalog.Modules, m)
	}

	for _, m := range catalog.Modules {
		for _, other := range m.IncompatibleModules {
			if !moduleIDs[other] {
				return nil, fmt.Errorf("module %s: incompatible module %q is not in the catalog", m.ID, other)
			}
		}
	}

	userIDs := make(map[string]bool, len(doc.Users))
	emails := make(map[string]bool, len(doc.Users))
	for i, ud := range doc.Users {
		u, err := parseUser(ud)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		if userIDs[u.ID] {
			return nil, fmt.Errorf("user %d: duplicate id %q", i, u.ID)
		}
		if emails[u.Email] {
			return nil, fmt.Errorf("user %d: duplicate email %q", i, u.Email)
		}
		userIDs[u.ID] = true
		emails[u.Email] = true
		catalog.Users = append(catalog.Users, u)
	}

	return catalog, nil
}

// Apply writes every module, then every user, to w.
func (c *Catalog) Apply(ctx context.Context, w CatalogWriter) error {
	for _, m := range c.Modules {
		if err := w.SaveModule(ctx, m); err != nil {
			return fmt.Errorf("failed to seed module %s: %w", m.ID, err)
		}
	}
	for _, u := range c.Users {
		if err := w.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseModule(md ModuleDoc) (access.Module, error) {
	if md.ID == "" {
		return access.Module{}, errors.New("id is required")
	}
	if md.Name == "" {
		return access.Module{}, fmt.Errorf("%s: name is required", md.ID)
	}

	active := true
	if md.Active != nil {
		active = *md.Active
	}

	return access.Module{
		ID:                  md.ID,
		Name:                md.Name,
		Description:         md.Description,
		AllowedDepartments:  md.AllowedDepartments,
		IncompatibleModules: md.IncompatibleModules,
		Active:              active,
	}, nil
}

func parseUser(ud UserDoc) (access.User, error) {
	switch {
	case ud.ID == "":
		return access.User{}, errors.New("id is required")
	case ud.Email == "":
		return access.User{}, fmt.Errorf("%s: email is required", ud.ID)
	case ud.Department == "":
		return access.User{}, fmt.Errorf("%s: department is required", ud.ID)
	}

	hash, err := passwordHash(ud)
	if err != nil {
		return access.User{}, fmt.Errorf("%s: %w", ud.ID, err)
	}

	return access.User{
		ID:           ud.ID,
		Email:        ud.Email,
		Name:         ud.Name,
		Department:   ud.Department,
		PasswordHash: hash,
	}, nil
}

func passwordHash(ud UserDoc) (string, error) {
	switch {
	case ud.Password != "" && ud.PasswordHash != "":
		return "", errors.New("set either password or password_hash, not both")
	case ud.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(ud.PasswordHash)); err != nil {
			return "", fmt.Errorf("password_hash is not a bcrypt hash: %w", err)
		}
		return ud.PasswordHash, nil
	case ud.Password != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(ud.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(hash), nil
	default:
		return "", errors.New("password or password_hash is required")
	}
}
