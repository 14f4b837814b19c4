package store

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/normalize"
)

const dateLayout = "2006-01-02"

// Dataset is a complete knowledge base as read from a YAML fixture.
type Dataset struct {
	Tags        []Tag
	Entries     []Entry
	EntryTags   map[int64][]int64
	BusyPeriods []BusyPeriod
}

type datasetFile struct {
	Tags []struct {
		ID       int64    `yaml:"id"`
		Name     string   `yaml:"name"`
		Synonyms []string `yaml:"synonyms"`
	} `yaml:"tags"`
	Entries []struct {
		ID             int64    `yaml:"id"`
		MainCategory   string   `yaml:"main_category"`
		SubCategory    string   `yaml:"sub_category"`
		DetailCategory string   `yaml:"detail_category"`
		Question       string   `yaml:"question"`
		Answer         string   `yaml:"answer"`
		IsTemplate     bool     `yaml:"is_template"`
		Usage          string   `yaml:"usage"`
		Note           string   `yaml:"note"`
		Issue          string   `yaml:"issue"`
		Tags           []string `yaml:"tags"`
	} `yaml:"entries"`
	BusyPeriods []struct {
		Year        int    `yaml:"year"`
		Start       string `yaml:"start"`
		End         string `yaml:"end"`
		Description string `yaml:"description"`
	} `yaml:"busy_periods"`
}

// LoadDataset reads and validates a YAML dataset.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.New(kberrors.ErrCodeDatasetNotFound,
				fmt.Sprintf("dataset not found: %s", path), err).
				WithSuggestion("Pass an existing YAML file or set store.dataset in .kbsearch.yaml")
		}
		return nil, kberrors.New(kberrors.ErrCodeDatasetInvalid, "failed to read dataset", err)
	}
	ds, err := ParseDataset(data)
	if err != nil {
		if ke, ok := kberrors.As(err); ok {
			return nil, ke.WithDetail("path", path)
		}
		return nil, err
	}
	return ds, nil
}

// ParseDataset decodes a YAML dataset. Entry tags are referenced by name and
// resolved to ids here.
func ParseDataset(data []byte) (*Dataset, error) {
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeDatasetInvalid, "failed to parse dataset YAML", err)
	}

	invalid := func(format string, args ...any) error {
		return kberrors.New(kberrors.ErrCodeDatasetInvalid, fmt.Sprintf(format, args...), nil)
	}

	ds := &Dataset{EntryTags: make(map[int64][]int64)}
	byName := make(map[string]int64, len(f.Tags))
	for i, t := range f.Tags {
		name := normalize.Text(t.Name)
		if name == "" {
			return nil, invalid("tag %d has no name", i+1)
		}
		id := t.ID
		if id == 0 {
			id = int64(i + 1)
		}
		if _, dup := byName[name]; dup {
			return nil, invalid("duplicate tag %q", name)
		}
		byName[name] = id
		ds.Tags = append(ds.Tags, Tag{ID: id, Name: name, Synonyms: cleanList(t.Synonyms)})
	}

	now := time.Now().UTC()
	seen := make(map[int64]struct{}, len(f.Entries))
	for i, e := range f.Entries {
		id := e.ID
		if id == 0 {
			id = int64(i + 1)
		}
		if _, dup := seen[id]; dup {
			return nil, invalid("duplicate entry id %d", id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(e.Question) == "" && strings.TrimSpace(e.Answer) == "" {
			return nil, invalid("entry %d has neither question nor answer", id)
		}
		usage := Usage(strings.TrimSpace(e.Usage))
		if !usage.Valid() {
			return nil, invalid("entry %d has unknown usage %q", id, e.Usage)
		}

		for _, name := range e.Tags {
			tagID, ok := byName[normalize.Text(name)]
			if !ok {
				return nil, invalid("entry %d references unknown tag %q", id, name)
			}
			ds.EntryTags[id] = append(ds.EntryTags[id], tagID)
		}

		ds.Entries = append(ds.Entries, Entry{
			ID:             id,
			MainCategory:   e.MainCategory,
			SubCategory:    e.SubCategory,
			DetailCategory: e.DetailCategory,
			Question:       e.Question,
			Answer:         e.Answer,
			IsTemplate:     e.IsTemplate,
			Usage:          usage,
			Note:           e.Note,
			Issue:          e.Issue,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	for i, p := range f.BusyPeriods {
		start, err := time.Parse(dateLayout, p.Start)
		if err != nil {
			return nil, invalid("busy period %d: bad start date %q", i+1, p.Start)
		}
		end, err := time.Parse(dateLayout, p.End)
		if err != nil {
			return nil, invalid("busy period %d: bad end date %q", i+1, p.End)
		}
		if end.Before(start) {
			return nil, invalid("busy period %d ends before it starts", i+1)
		}
		year := p.Year
		if year == 0 {
			year = start.Year()
		}
		ds.BusyPeriods = append(ds.BusyPeriods, BusyPeriod{
			ID:          int64(i + 1),
			Year:        year,
			StartDate:   start,
			EndDate:     end,
			Description: p.Description,
		})
	}

	ds.Canonicalize()
	return ds, nil
}

// Canonicalize folds the searchable text of ds to the form queries are
// normalized to, so full-width or half-width variants in the source match.
// It is idempotent.
func (ds *Dataset) Canonicalize() {
	for i := range ds.Tags {
		t := &ds.Tags[i]
		t.Name = normalize.Text(t.Name)
		t.Synonyms = cleanList(t.Synonyms)
	}
	for i := range ds.Entries {
		e := &ds.Entries[i]
		e.MainCategory = normalize.Text(e.MainCategory)
		e.SubCategory = normalize.Text(e.SubCategory)
		e.DetailCategory = normalize.Text(e.DetailCategory)
		e.Question = normalize.Text(e.Question)
		e.Answer = strings.TrimSpace(normalize.Width(e.Answer))
	}
}

func cleanList(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = normalize.Text(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
