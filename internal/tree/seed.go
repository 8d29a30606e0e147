package tree

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deep2look/bot/internal/models"
)

// SeedFile is the YAML layout accepted by Seed:
//
//	nodes:
//	  - text: About
//	    kind: text
//	    payload: We answer within a day.
//	  - text: Support
//	    kind: folder
//	    children:
//	      - text: Billing
//	        kind: contact
type SeedFile struct {
	Nodes []SeedNode `yaml:"nodes"`
}

type SeedNode struct {
	Text     string     `yaml:"text"`
	Kind     string     `yaml:"kind"`
	Payload  string     `yaml:"payload"`
	Hidden   bool       `yaml:"hidden"`
	Children []SeedNode `yaml:"children"`
}

// Seed imports a tree when the store holds no nodes yet and returns how many
// nodes it created. A non-empty store is left alone.
func (m *Manager) Seed(ctx context.Context, r io.Reader, creator int64) (int, error) {
	count, err := m.store.CountNodes(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	if err := validateSeed(file.Nodes, "nodes"); err != nil {
		return 0, err
	}
	created := 0
	if err := m.seedLevel(ctx, nil, file.Nodes, creator, &created); err != nil {
		return created, err
	}
	m.log.Info().Int("nodes", created).Msg("content tree seeded")
	return created, nil
}

// SeedPath is Seed over a file on disk.
func (m *Manager) SeedPath(ctx context.Context, path string, creator int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return m.Seed(ctx, f, creator)
}

func (m *Manager) seedLevel(ctx context.Context, parent *int64, nodes []SeedNode, creator int64, created *int) error {
	for _, sn := range nodes {
		kind, _ := models.ParseNodeKind(sn.Kind)
		n, err := m.Create(ctx, parent, sn.Text, kind, sn.Payload, creator)
		if err != nil {
			return fmt.Errorf("seed %q: %w", sn.Text, err)
		}
		*created++
		if sn.Hidden {
			if err := m.SetActive(ctx, n.ID, false); err != nil {
				return err
			}
		}
		if len(sn.Children) > 0 {
			id := n.ID
			if err := m.seedLevel(ctx, &id, sn.Children, creator, created); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSeed(nodes []SeedNode, path string) error {
	for i, sn := range nodes {
		where := fmt.Sprintf("%s[%d]", path, i)
		if err := ValidateText(sn.Text); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		kind, ok := models.ParseNodeKind(sn.Kind)
		if !ok {
			return fmt.Errorf("%s: unknown kind %q", where, sn.Kind)
		}
		if kind == models.KindLink {
			if err := ValidateLink(sn.Payload); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
		if err := validateSeed(sn.Children, where+".children"); err != nil {
			return err
		}
	}
	return nil
}
