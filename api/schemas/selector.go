// api/schemas/selector.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Selector Schemas --

// FilterKind tags the variant held by a Filter.
type FilterKind string

const (
	FilterCSSSelector      FilterKind = "css_selector"
	FilterInnerText        FilterKind = "inner_text"
	FilterValue            FilterKind = "value"
	FilterProperty         FilterKind = "property"
	FilterMatchCSSSelector FilterKind = "match_css_selector"
	FilterBoundingBox      FilterKind = "bounding_box"
	FilterPickOne          FilterKind = "pick_one"
	FilterNthMatch         FilterKind = "nth_match"
	FilterEnterFrame       FilterKind = "enter_frame"
	FilterSemantic         FilterKind = "semantic"
)

// TextFilter matches text against a regular expression (JavaScript RegExp syntax).
type TextFilter struct {
	Re            string `json:"re" yaml:"re"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" yaml:"case_sensitive"`
}

// PropertyFilter matches a DOM property's string value.
type PropertyFilter struct {
	Name string     `json:"name" yaml:"name"`
	Text TextFilter `json:"text" yaml:"text"`
}

// SemanticFilter selects an element by a learned classification of its role
// and objective rather than by CSS.
type SemanticFilter struct {
	Role            int32         `json:"role" yaml:"role"`
	Objective       int32         `json:"objective" yaml:"objective"`
	IgnoreObjective bool          `json:"ignore_objective,omitempty" yaml:"ignore_objective"`
	ModelTimeout    time.Duration `json:"model_timeout,omitempty" yaml:"model_timeout"`
}

// Filter is one step of a Selector. Exactly the field matching Kind is meaningful.
type Filter struct {
	Kind     FilterKind      `json:"kind" yaml:"kind"`
	CSS      string          `json:"css,omitempty" yaml:"css"`
	Text     *TextFilter     `json:"text,omitempty" yaml:"text"`
	Property *PropertyFilter `json:"property,omitempty" yaml:"property"`
	Index    int             `json:"index,omitempty" yaml:"index"`
	Semantic *SemanticFilter `json:"semantic,omitempty" yaml:"semantic"`
}

// Selector is an ordered list of filters describing how to reach a DOM node.
type Selector struct {
	Filters    []Filter `json:"filters" yaml:"filters"`
	TrackingID string   `json:"tracking_id,omitempty" yaml:"tracking_id"`
}

// NewSelector builds a selector from CSS steps, inserting an EnterFrame filter
// between consecutive entries. This mirrors the common "iframe chain" notation
// where each entry but the last names an iframe.
func NewSelector(cssChain ...string) Selector {
	var s Selector
	for i, css := range cssChain {
		if i > 0 {
			s.Filters = append(s.Filters, Filter{Kind: FilterEnterFrame})
		}
		s.Filters = append(s.Filters, Filter{Kind: FilterCSSSelector, CSS: css})
	}
	return s
}

// NewSemanticSelector builds a selector whose first filter is semantic.
func NewSemanticSelector(f SemanticFilter) Selector {
	return Selector{Filters: []Filter{{Kind: FilterSemantic, Semantic: &f}}}
}

// Then returns a copy of s with the filters appended.
func (s Selector) Then(filters ...Filter) Selector {
	out := Selector{TrackingID: s.TrackingID}
	out.Filters = append(append(out.Filters, s.Filters...), filters...)
	return out
}

// WithInnerText appends an inner text filter.
func (s Selector) WithInnerText(re string) Selector {
	return s.Then(Filter{Kind: FilterInnerText, Text: &TextFilter{Re: re}})
}

// WithValue appends a value filter.
func (s Selector) WithValue(re string) Selector {
	return s.Then(Filter{Kind: FilterValue, Text: &TextFilter{Re: re}})
}

// MustBeVisible appends a bounding box filter.
func (s Selector) MustBeVisible() Selector {
	return s.Then(Filter{Kind: FilterBoundingBox})
}

// Empty reports whether the selector has no filters.
func (s Selector) Empty() bool { return len(s.Filters) == 0 }

// IsSemantic reports whether the first filter is semantic.
func (s Selector) IsSemantic() bool {
	return len(s.Filters) > 0 && s.Filters[0].Kind == FilterSemantic
}

// Validate checks the structural invariants of the selector. An empty
// selector is valid here; callers that need a target reject it themselves.
func (s Selector) Validate() error {
	for i, f := range s.Filters {
		switch f.Kind {
		case FilterCSSSelector, FilterMatchCSSSelector:
			if strings.TrimSpace(f.CSS) == "" {
				return Statusf(InvalidSelector, "filter %d: empty css selector", i)
			}
		case FilterInnerText, FilterValue:
			if f.Text == nil {
				return Statusf(InvalidSelector, "filter %d: %s requires a text filter", i, f.Kind)
			}
		case FilterProperty:
			if f.Property == nil || f.Property.Name == "" {
				return Statusf(InvalidSelector, "filter %d: property filter requires a name", i)
			}
		case FilterNthMatch:
			if f.Index < 0 {
				return Statusf(InvalidSelector, "filter %d: negative nth_match index", i)
			}
		case FilterSemantic:
			if i != 0 {
				return Statusf(InvalidSelector, "filter %d: semantic filter must come first", i)
			}
			if f.Semantic == nil {
				return Statusf(InvalidSelector, "filter %d: missing semantic parameters", i)
			}
		case FilterBoundingBox, FilterPickOne, FilterEnterFrame:
		default:
			return Statusf(InvalidSelector, "filter %d: unknown kind %q", i, f.Kind)
		}
	}
	return nil
}

// String renders the selector in a compact, human readable form for logs.
func (s Selector) String() string {
	parts := make([]string, 0, len(s.Filters))
	for _, f := range s.Filters {
		switch f.Kind {
		case FilterCSSSelector:
			parts = append(parts, f.CSS)
		case FilterMatchCSSSelector:
			parts = append(parts, fmt.Sprintf("matches(%s)", f.CSS))
		case FilterInnerText, FilterValue:
			re := ""
			if f.Text != nil {
				re = f.Text.Re
			}
			parts = append(parts, fmt.Sprintf("%s(/%s/)", f.Kind, re))
		case FilterProperty:
			if f.Property != nil {
				parts = append(parts, fmt.Sprintf("property(%s=/%s/)", f.Property.Name, f.Property.Text.Re))
			}
		case FilterNthMatch:
			parts = append(parts, fmt.Sprintf("nth(%d)", f.Index))
		case FilterEnterFrame:
			parts = append(parts, ">>")
		case FilterSemantic:
			if f.Semantic != nil {
				parts = append(parts, fmt.Sprintf("semantic(role=%d,objective=%d)", f.Semantic.Role, f.Semantic.Objective))
			}
		default:
			parts = append(parts, string(f.Kind))
		}
	}
	return strings.Join(parts, " ")
}

// -- Diagnostics --

// ElementFinderInfo is the diagnostic record appended for each finder run.
type ElementFinderInfo struct {
	Status            StatusCode `json:"status"`
	TrackingID        string     `json:"tracking_id,omitempty"`
	Strategy          string     `json:"strategy"`
	MatchedBackendIDs []int64    `json:"matched_backend_ids,omitempty"`
	// SemanticNodes lists the candidates returned by the classifier, if the
	// semantic strategy ran.
	SemanticNodes []SemanticNodeInfo `json:"semantic_nodes,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// SemanticNodeInfo mirrors one classifier candidate for diagnostics.
type SemanticNodeInfo struct {
	FrameHost     string `json:"frame_host"`
	BackendNodeID int64  `json:"backend_node_id"`
	UsedOverride  bool   `json:"used_override"`
}
