package detect

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadNames reads class names from a dataset YAML file. Both forms used by
// YOLO dataset files are accepted:
//
//	names: [forceps, scaler]
//	names: {0: forceps, 1: scaler}
func LoadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	return ParseNames(data)
}

// ParseNames is LoadNames on an in-memory document.
func ParseNames(data []byte) ([]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse names file: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names list: %w", err)
		}
		return names, nil

	case yaml.MappingNode:
		var byID map[int]string
		if err := doc.Names.Decode(&byID); err != nil {
			return nil, fmt.Errorf("decode names map: %w", err)
		}
		ids := make([]int, 0, len(byID))
		for id := range byID {
			if id < 0 {
				return nil, fmt.Errorf("negative class id %d", id)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)
		if len(ids) == 0 {
			return nil, fmt.Errorf("names map is empty")
		}
		names := make([]string, ids[len(ids)-1]+1)
		for _, id := range ids {
			names[id] = byID[id]
		}
		return names, nil
	}

	return nil, fmt.Errorf("names file has no names list")
}
