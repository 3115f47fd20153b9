// api/schemas/actions.go
package schemas

import "time"

// -- Interaction Schemas --

// ClickType selects how a click is delivered to an element.
type ClickType string

const (
	// ClickNative dispatches a mouse pressed/released pair at the element centre.
	ClickNative ClickType = "click"
	// ClickTap dispatches a touchStart/touchEnd pair at the element centre.
	ClickTap ClickType = "tap"
	// ClickJavaScript calls element.click() in the page; no geometry needed.
	ClickJavaScript ClickType = "javascript"
)

// DropdownSelectStrategy decides how an <option> is matched against the requested value.
type DropdownSelectStrategy string

const (
	SelectValueMatch      DropdownSelectStrategy = "value_match"
	SelectLabelMatch      DropdownSelectStrategy = "label_match"
	SelectLabelStartsWith DropdownSelectStrategy = "label_starts_with"
)

// KeyboardValueFillStrategy decides how a field value is written.
type KeyboardValueFillStrategy string

const (
	// FillSetValue sets the value property directly and fires a change event.
	FillSetValue KeyboardValueFillStrategy = "set_value"
	// FillSimulateKeyPressesSelectValue selects the current value then types over it.
	FillSimulateKeyPressesSelectValue KeyboardValueFillStrategy = "simulate_key_presses_select_value"
	// FillSimulateKeyPresses clears the field then types the value.
	FillSimulateKeyPresses KeyboardValueFillStrategy = "simulate_key_presses"
)

// DocumentReadyState mirrors document.readyState, ordered by progress.
type DocumentReadyState int

const (
	DocumentUnknownReadyState DocumentReadyState = iota
	DocumentUninitialized
	DocumentLoading
	DocumentLoaded
	DocumentInteractive
	DocumentComplete
	// DocumentMaxReadyState is used as a "never satisfied" target by callers that only want to read the state.
	DocumentMaxReadyState
)

// ParseDocumentReadyState maps a document.readyState string.
func ParseDocumentReadyState(s string) DocumentReadyState {
	switch s {
	case "uninitialized":
		return DocumentUninitialized
	case "loading":
		return DocumentLoading
	case "loaded":
		return DocumentLoaded
	case "interactive":
		return DocumentInteractive
	case "complete":
		return DocumentComplete
	default:
		return DocumentUnknownReadyState
	}
}

func (s DocumentReadyState) String() string {
	switch s {
	case DocumentUninitialized:
		return "uninitialized"
	case DocumentLoading:
		return "loading"
	case DocumentLoaded:
		return "loaded"
	case DocumentInteractive:
		return "interactive"
	case DocumentComplete:
		return "complete"
	case DocumentMaxReadyState:
		return "max"
	default:
		return "unknown"
	}
}

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// Center returns the centre point.
func (r Rect) Center() (x, y float64) {
	return (r.Left + r.Right) / 2, (r.Top + r.Bottom) / 2
}

// Offset returns r translated by dx, dy.
func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{Left: r.Left + dx, Top: r.Top + dy, Right: r.Right + dx, Bottom: r.Bottom + dy}
}

// -- Required Fields --

// FieldValueStatus tracks what the fallback handler knows about a field.
type FieldValueStatus int

const (
	FieldStatusUnknown FieldValueStatus = iota
	FieldEmpty
	FieldNotEmpty
)

// RequiredField is a form field that must end up non-empty after a fill.
type RequiredField struct {
	// ValueExpression describes the fallback value; ${key} references are
	// substituted from the handler's value map.
	ValueExpression string           `json:"value_expression" yaml:"value_expression"`
	Selector        Selector         `json:"selector" yaml:"selector"`
	Status          FieldValueStatus `json:"-" yaml:"-"`
	// Forced fields are re-verified even when the upstream fill reported success.
	Forced bool `json:"forced,omitempty" yaml:"forced"`
	// FallbackClickElement, when set, marks the field as a custom dropdown:
	// the field is clicked, then this element (the option) is clicked.
	FallbackClickElement *Selector                 `json:"fallback_click_element,omitempty" yaml:"fallback_click_element"`
	ClickType            ClickType                 `json:"click_type,omitempty" yaml:"click_type"`
	SelectStrategy       DropdownSelectStrategy    `json:"select_strategy,omitempty" yaml:"select_strategy"`
	FillStrategy         KeyboardValueFillStrategy `json:"fill_strategy,omitempty" yaml:"fill_strategy"`
	KeyPressDelay        time.Duration             `json:"key_press_delay,omitempty" yaml:"key_press_delay"`
}
