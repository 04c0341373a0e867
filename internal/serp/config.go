package serp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every RunConfig validation failure.
var ErrInvalidConfig = errors.New("invalid run config")

const defaultMaxDepth = 30

// Project is an operator-defined tracking project as stored in projects.json.
// Pages, when set, takes priority over MaxPositions.
type Project struct {
	Name          string   `json:"name" yaml:"name"`
	Location      string   `json:"location" yaml:"location"`
	GL            string   `json:"gl" yaml:"gl"`
	HL            string   `json:"hl" yaml:"hl"`
	APIKeys       []string `json:"api_keys" yaml:"api_keys"`
	TargetDomains []string `json:"target_domains" yaml:"target_domains"`
	Keywords      []string `json:"keywords" yaml:"keywords"`
	Pages         *int     `json:"pages,omitempty" yaml:"pages,omitempty"`
	MaxPositions  *int     `json:"max_positions,omitempty" yaml:"max_positions,omitempty"`
	HistoryFile   string   `json:"history_file" yaml:"history_file"`
	OutputPrefix  string   `json:"output_prefix" yaml:"output_prefix"`
}

// RunConfig is the validated, immutable input of a single run.
type RunConfig struct {
	RunID          string
	Name           string   `validate:"required"`
	Location       string   `validate:"required"`
	CountryCode    string   `validate:"required"`
	LanguageCode   string   `validate:"required"`
	Credentials    []string `validate:"min=1,dive,required"`
	TargetDomains  []string `validate:"min=1,dive,required"`
	Keywords       []string `validate:"min=1,dive,required"`
	Pages          int      `validate:"min=1"`
	MaxDepth       int      `validate:"min=1"`
	ResultsPerPage int      `validate:"min=1"`
	HistoryStoreID string   `validate:"required"`
	OutputPrefix   string   `validate:"required"`
}

var validate = validator.New()

// BuildRunConfig derives a RunConfig from a project definition. An explicit page
// count wins over max positions: maxDepth = pages * resultsPerPage. Otherwise
// pages = ceil(maxDepth / resultsPerPage). pagesOverride replaces the project's
// own page setting when non-nil.
func BuildRunConfig(p Project, resultsPerPage int, pagesOverride *int) (RunConfig, error) {
	if resultsPerPage <= 0 {
		return RunConfig{}, fmt.Errorf("%w: results per page must be > 0", ErrInvalidConfig)
	}
	pages := p.Pages
	if pagesOverride != nil {
		pages = pagesOverride
	}

	var maxDepth, pageCount int
	if pages != nil {
		pageCount = max(1, *pages)
		maxDepth = pageCount * resultsPerPage
	} else {
		maxDepth = defaultMaxDepth
		if p.MaxPositions != nil && *p.MaxPositions > 0 {
			maxDepth = *p.MaxPositions
		}
		pageCount = max(1, (maxDepth+resultsPerPage-1)/resultsPerPage)
	}

	cfg := RunConfig{
		Name:           strings.TrimSpace(p.Name),
		Location:       strings.TrimSpace(p.Location),
		CountryCode:    strings.TrimSpace(p.GL),
		LanguageCode:   strings.TrimSpace(p.HL),
		Credentials:    normalizeList(p.APIKeys),
		TargetDomains:  normalizeTargets(p.TargetDomains),
		Keywords:       normalizeList(p.Keywords),
		Pages:          pageCount,
		MaxDepth:       maxDepth,
		ResultsPerPage: resultsPerPage,
		HistoryStoreID: strings.TrimSpace(p.HistoryFile),
		OutputPrefix:   strings.TrimSpace(p.OutputPrefix),
	}
	return cfg, cfg.Validate()
}

// Validate checks for missing or inconsistent settings.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Pages*c.ResultsPerPage < c.MaxDepth {
		return fmt.Errorf("%w: %d pages of %d cannot cover depth %d",
			ErrInvalidConfig, c.Pages, c.ResultsPerPage, c.MaxDepth)
	}
	return nil
}

// normalizeList trims entries, drops blanks and removes duplicates, keeping order.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func normalizeTargets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range normalizeList(in) {
		if n := NormalizeHost(d); n != "" {
			out = append(out, n)
		}
	}
	return normalizeList(out)
}
