// Package rewrite maps source-relative artifact paths to destination-relative
// paths by applying ordered filename rules.
package rewrite

import (
	"path"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// Rule replaces one literal substring in a filename. A prefix rule only
// applies when the filename begins with From, and replaces that occurrence
// alone.
type Rule struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty" hcl:"name,optional"`
	From   string `json:"from" yaml:"from" hcl:"from"`
	To     string `json:"to" yaml:"to" hcl:"to"`
	Prefix bool   `json:"prefix,omitempty" yaml:"prefix,omitempty" hcl:"prefix,optional"`
}

func (r Rule) apply(name string) string {
	if r.Prefix {
		if strings.HasPrefix(name, r.From) {
			return r.To + strings.TrimPrefix(name, r.From)
		}
		return name
	}
	return strings.ReplaceAll(name, r.From, r.To)
}

func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Prefix {
		return "prefix " + r.From
	}
	return r.From
}

// DefaultRules are the renaming policy applied to every artifact, in order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "xl-prefix", From: "(XL) ", To: "b.", Prefix: true},
		{Name: "underscore", From: "_", To: "-"},
		{Name: "spaced-hyphen", From: " - ", To: "-"},
	}
}

// Entry pairs a source path with its computed destination.
type Entry struct {
	Source      string
	Destination string
	Renamed     bool
	Applied     []string // labels of the rules that changed the name
}

// OldName is the source filename.
func (e Entry) OldName() string { return path.Base(e.Source) }

// NewName is the destination filename.
func (e Entry) NewName() string { return path.Base(e.Destination) }

// Rewriter applies DefaultRules followed by any extra rules.
type Rewriter struct {
	rules []Rule
}

// New creates a Rewriter. Extra rules run after the default rules.
func New(extra ...Rule) (*Rewriter, error) {
	if err := ValidateRules(extra); err != nil {
		return nil, err
	}
	rules := append(DefaultRules(), extra...)
	return &Rewriter{rules: rules}, nil
}

// Rules returns a copy of the ordered rule list.
func (r *Rewriter) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Rewrite returns the destination-relative path for a slash-separated
// source-relative path. Only the final segment is changed.
func (r *Rewriter) Rewrite(rel string) string {
	return r.Plan(rel).Destination
}

// Plan computes the destination entry for rel.
func (r *Rewriter) Plan(rel string) Entry {
	dir, name := path.Split(rel)

	var applied []string
	current := name
	for _, rule := range r.rules {
		next := rule.apply(current)
		if next != current {
			applied = append(applied, rule.label())
		}
		current = next
	}

	return Entry{
		Source:      rel,
		Destination: dir + current,
		Renamed:     current != name,
		Applied:     applied,
	}
}

// ValidateRules rejects rules that cannot match anything or that would
// introduce a path separator into a filename.
func ValidateRules(rules []Rule) error {
	for i, rule := range rules {
		if rule.From == "" {
			return errors.Errorf("rule %d: from is required", i)
		}
		if strings.ContainsAny(rule.To, `/\`) {
			return errors.Errorf("rule %d: to must not contain a path separator", i)
		}
	}
	return nil
}

var defaultRewriter = &Rewriter{rules: DefaultRules()}

// Rewrite applies the default rules to rel.
func Rewrite(rel string) string {
	return defaultRewriter.Rewrite(rel)
}
