// Package catalog maps detector class ids to human-readable sign labels.
package catalog

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is a read-only class id -> label mapping
type Catalog struct {
	labels map[int]string
}

// file is the on-disk YAML shape
type file struct {
	Classes map[int]string `yaml:"classes"`
}

// New builds a catalog from a mapping. The mapping is copied.
func New(labels map[int]string) (*Catalog, error) {
	c := &Catalog{labels: make(map[int]string, len(labels))}
	for id, label := range labels {
		if id < 0 {
			return nil, errors.Errorf("class id %d: must be non-negative", id)
		}
		if label == "" {
			return nil, errors.Errorf("class id %d: empty label", id)
		}
		c.labels[id] = label
	}
	return c, nil
}

// Load reads a catalog from a YAML file of the form `classes: {0: DP.135, 1: P.102}`
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}
	if len(f.Classes) == 0 {
		return nil, errors.Errorf("catalog %s: no classes", path)
	}
	return New(f.Classes)
}

// LoadOrDefault loads path, or returns the built-in catalog when path is empty
func LoadOrDefault(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Lookup returns the label for a class id
func (c *Catalog) Lookup(id int) (string, bool) {
	label, ok := c.labels[id]
	return label, ok
}

// Len returns the number of classes
func (c *Catalog) Len() int {
	return len(c.labels)
}

// IDs returns the class ids in ascending order
func (c *Catalog) IDs() []int {
	ids := make([]int, 0, len(c.labels))
	for id := range c.labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Default returns the built-in traffic-sign catalog
func Default() *Catalog {
	c, err := New(trafficSigns)
	if err != nil {
		panic(err)
	}
	return c
}

var trafficSigns = map[int]string{
	0: "DP.135", 1: "P.102", 2: "P.103a", 3: "P.103b", 4: "P.103c", 5: "P.104",
	6: "P.106a", 7: "P.106b", 8: "P.107a", 9: "P.112", 10: "P.115", 11: "P.117",
	12: "P.123a", 13: "P.123b", 14: "P.124a", 15: "P.124b", 16: "P.124c", 17: "P.125",
	18: "P.127", 19: "P.128", 20: "P.130", 21: "P.131a", 22: "P.137", 23: "P.245a",
	24: "R.301c", 25: "R.301d", 26: "R.301e", 27: "R.302a", 28: "R.302b", 29: "R.303",
	30: "R.407a", 31: "R.409", 32: "R.425", 33: "R.434", 34: "S.509a", 35: "W.201a",
	36: "W.201b", 37: "W.202a", 38: "W.202b", 39: "W.203b", 40: "W.203c", 41: "W.205a",
	42: "W.205b", 43: "W.205d", 44: "W.207a", 45: "W.207b", 46: "W.207c", 47: "W.208",
	48: "W.209", 49: "W.210", 50: "W.219", 51: "W.221b", 52: "W.224", 53: "W.225",
	54: "W.227", 55: "W.233", 56: "W.235", 57: "W.245a",
}
