package main

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	models "osmlevels/internal/domain/models/hierarchy"
)

type seedFile struct {
	Trees []seedTree `yaml:"trees"`
}

type seedTree struct {
	ID     string      `yaml:"id"`
	Levels []seedLevel `yaml:"levels"`
}

type seedLevel struct {
	ID        string      `yaml:"id"`
	Name      string      `yaml:"name"`
	MachineID string      `yaml:"machine_id"`
	Children  []seedLevel `yaml:"children"`
}

func parseTrees(data []byte) ([]seedTree, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal seed file: %w", err)
	}
	seen := make(map[string]bool)
	for _, t := range f.Trees {
		if t.ID == "" {
			return nil, fmt.Errorf("tree without id")
		}
		ids := make(map[string]bool)
		if err := checkLevels(t.Levels, ids); err != nil {
			return nil, fmt.Errorf("tree %s: %w", t.ID, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate tree %s", t.ID)
		}
		seen[t.ID] = true
	}
	return f.Trees, nil
}

func checkLevels(levels []seedLevel, ids map[string]bool) error {
	for _, l := range levels {
		if l.ID == "" || l.Name == "" {
			return fmt.Errorf("level needs id and name (got id=%q name=%q)", l.ID, l.Name)
		}
		if ids[l.ID] {
			return fmt.Errorf("duplicate level id %s", l.ID)
		}
		ids[l.ID] = true
		if err := checkLevels(l.Children, ids); err != nil {
			return err
		}
	}
	return nil
}

// flatten lists parents before their children so inserts never dangle
func (t seedTree) flatten() []models.Node {
	var out []models.Node
	var walk func(levels []seedLevel, parent string)
	walk = func(levels []seedLevel, parent string) {
		for _, l := range levels {
			out = append(out, models.Node{
				ID:         l.ID,
				Name:       l.Name,
				ParentID:   models.ParentRef(parent),
				ExternalID: l.MachineID,
			})
			walk(l.Children, l.ID)
		}
	}
	walk(t.Levels, models.RootID)
	return out
}

// generateTree builds a uniform tree with fanout children per level.
// Leaves carry machine ids M-<n>.
func generateTree(id string, fanout, depth int) seedTree {
	machine := 0
	var build func(prefix string, level int) []seedLevel
	build = func(prefix string, level int) []seedLevel {
		if level > depth {
			return nil
		}
		levels := make([]seedLevel, 0, fanout)
		for i := 1; i <= fanout; i++ {
			nodeID := prefix + strconv.Itoa(i)
			l := seedLevel{
				ID:   nodeID,
				Name: fmt.Sprintf("Level %d-%d", level, i),
			}
			if level == depth {
				machine++
				l.MachineID = "M-" + strconv.Itoa(machine)
			} else {
				l.Children = build(nodeID+".", level+1)
			}
			levels = append(levels, l)
		}
		return levels
	}
	return seedTree{ID: id, Levels: build("n", 1)}
}
