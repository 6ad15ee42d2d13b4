package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"sjsage522/marketcrawler/pkg/errors"
)

// Kinds of catalog entries; each is traversed by its own walker
const (
	KindCollection = "collection"
	KindVehicles   = "vehicles"
)

// Collection is one curated category grouping on the marketplace, or a
// vehicles feed when Kind is KindVehicles
type Collection struct {
	Name          string   `yaml:"name"`
	URL           string   `yaml:"url"`
	Kind          string   `yaml:"kind,omitempty"`
	Subcategories []string `yaml:"subcategories,omitempty"`
}

// WalkerKind returns Kind, defaulting to KindCollection
func (c Collection) WalkerKind() string {
	if c.Kind == "" {
		return KindCollection
	}
	return c.Kind
}

// Catalog maps category keys to collections
type Catalog map[string]Collection

// Job is one (category, filters) pair consumed by the runner
type Job struct {
	CategoryKey string            `yaml:"category_key"`
	Filters     map[string]string `yaml:"filters,omitempty"`
}

// Recognized filter keys. The vehicle keys apply to KindVehicles entries.
const (
	FilterMinPrice     = "min_price"
	FilterMaxPrice     = "max_price"
	FilterType         = "filters"
	FilterManufacturer = "manufacturer"
	FilterModel        = "model"
	FilterYear         = "year"
)

// AppliedFilters returns the non-empty filters sorted by key
func (j Job) AppliedFilters() [][2]string {
	keys := make([]string, 0, len(j.Filters))
	for k, v := range j.Filters {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, j.Filters[k]})
	}
	return out
}

// LoadCatalog reads the category catalog from a YAML file
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read catalog", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, errors.NewConfiguration("parse catalog", err)
	}

	for key, c := range catalog {
		if c.URL == "" {
			return nil, errors.NewConfiguration(fmt.Sprintf("collection %q has no url", key), nil)
		}
		if k := c.WalkerKind(); k != KindCollection && k != KindVehicles {
			return nil, errors.NewConfiguration(fmt.Sprintf("collection %q has unknown kind %q", key, k), nil)
		}
	}
	return catalog, nil
}

// LoadJobs reads the ordered job list from a YAML file
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read jobs", err)
	}

	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, errors.NewConfiguration("parse jobs", err)
	}

	for i, j := range jobs {
		if j.CategoryKey == "" {
			return nil, errors.NewConfiguration(fmt.Sprintf("job %d has no category_key", i), nil)
		}
	}
	return jobs, nil
}
