package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drblury/flowplan/internal/model"
)

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// readDescriptor decodes a descriptor file, JSON for .json files and YAML otherwise.
func readDescriptor(path string) (*model.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	if isJSON(path) {
		return model.DescriptorFromJSON(data)
	}
	return model.DescriptorFromYAML(data)
}

// readRecord decodes a record file, JSON for .json files and YAML otherwise.
func readRecord(path string) (*model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if isJSON(path) {
		return model.RecordFromJSON(data)
	}
	return model.RecordFromYAML(data)
}

// encodeRecord renders rec as YAML, or JSON when asJSON is set.
func encodeRecord(rec *model.Record, asJSON bool) ([]byte, error) {
	if asJSON {
		return rec.ToJSON()
	}
	return rec.ToYAML()
}

// nodeCount returns the number of nodes and connectors of rec.
func nodeCount(rec *model.Record) int {
	return len(rec.Operators) + len(rec.Sources) + len(rec.Sinks) + len(rec.Connectors)
}
