package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ErrInput reports an input file that is missing or in an unknown format.
var ErrInput = errors.New("invalid input file")

// Format identifies the shape of an input file.
type Format string

// Accepted input formats.
const (
	FormatCharts     Format = "charts"
	FormatList       Format = "list"
	FormatCheckpoint Format = "checkpoint"
)

// Input is the set of item ids read from an input file.
type Input struct {
	Format Format
	// Done is only set by checkpoint inputs.
	Done []string
	IDs  []string
}

// Seeds returns the ids a related crawl starts from.
func (in Input) Seeds() []string {
	return in.IDs
}

// All returns done ∪ ids, sorted.
func (in Input) All() []string {
	set := crawler.NewSet(in.Done...)
	for _, id := range in.IDs {
		set.Add(id)
	}
	return set.Sorted()
}

// LoadIDs reads an input file: a charts listing {category: {chart: [ids]}},
// a plain list [ids] or a checkpoint {done: [...], ids: [...]}.
func LoadIDs(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %w", ErrInput, err)
	}
	in, err := ParseIDs(data)
	if err != nil {
		return Input{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// ParseIDs detects the format of data and extracts its ids.
func ParseIDs(data []byte) (Input, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Input{}, fmt.Errorf("%w: empty document", ErrInput)
	}
	switch data[0] {
	case '[':
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return Input{}, fmt.Errorf("%w: %w", ErrInput, err)
		}
		return Input{Format: FormatList, IDs: crawler.NewSet(ids...).Sorted()}, nil
	case '{':
	default:
		return Input{}, fmt.Errorf("%w: expected a JSON object or list", ErrInput)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Input{}, fmt.Errorf("%w: %w", ErrInput, err)
	}
	_, hasDone := fields["done"]
	_, hasIDs := fields["ids"]
	if hasDone || hasIDs {
		var snap struct {
			Done []string `json:"done"`
			IDs  []string `json:"ids"`
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return Input{}, fmt.Errorf("%w: %w", ErrInput, err)
		}
		return Input{
			Format: FormatCheckpoint,
			Done:   crawler.NewSet(snap.Done...).Sorted(),
			IDs:    crawler.NewSet(snap.IDs...).Sorted(),
		}, nil
	}

	var charts ChartListing
	if err := json.Unmarshal(data, &charts); err != nil {
		return Input{}, fmt.Errorf("%w: not a charts listing: %w", ErrInput, err)
	}
	return Input{Format: FormatCharts, IDs: charts.IDs()}, nil
}
