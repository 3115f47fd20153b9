// internal/devtools/js/js.go
//
// Package js holds the helper scripts the engine runs in the page. Functions
// are called with `this` bound to the target element (or document); plain
// expressions are evaluated in a frame's main world.
package js

// -- Expressions --

const (
	Document   = `document`
	ReadyState = `document.readyState`
)

// VisualViewport returns [left, top, right, bottom] of the visual viewport.
const VisualViewport = `(() => {
	const v = window.visualViewport;
	return [v.pageLeft, v.pageTop, v.pageLeft + v.width, v.pageTop + v.height];
})()`

// -- Resolution --

// QuerySelectorAll returns the matches of a selector below `this`.
const QuerySelectorAll = `function(selector) {
	return Array.from(this.querySelectorAll(selector));
}`

// MatchText tests the string value of a property against a regular
// expression. "innerText" and "value" are the common properties.
const MatchText = `function(property, re, caseSensitive) {
	const value = this[property];
	if (value === undefined || value === null) return false;
	return new RegExp(re, caseSensitive ? '' : 'i').test(String(value));
}`

// MatchesSelector reports whether `this` matches a selector.
const MatchesSelector = `function(selector) {
	return this.matches(selector);
}`

// IsVisible reports whether `this` has a non empty bounding box.
const IsVisible = `function() {
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

// -- Interaction --

// DocumentReadyState reads the ready state of the document owning `this`.
const DocumentReadyState = `function() {
	const doc = this.ownerDocument || this;
	return doc.readyState;
}`

const ScrollIntoView = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
}`

const ScrollIntoViewIfNeeded = `function(center) {
	if (this.scrollIntoViewIfNeeded) {
		this.scrollIntoViewIfNeeded(center);
	} else {
		this.scrollIntoView({block: center ? 'center' : 'nearest'});
	}
}`

// BoundingClientRect returns [left, top, right, bottom].
const BoundingClientRect = `function() {
	const r = this.getBoundingClientRect();
	return [r.left, r.top, r.right, r.bottom];
}`

const Click = `function() {
	this.click();
}`

// SelectOption selects the first option matching one of the values and fires
// input and change. Returns false when nothing matched.
const SelectOption = `function(values, strategy) {
	const options = Array.from(this.options || []);
	const matches = (option, value) => {
		switch (strategy) {
			case 'value_match':
				return option.value === value;
			case 'label_match':
				return option.label === value;
			case 'label_starts_with':
				return option.label.startsWith(value);
		}
		return false;
	};
	for (const value of values) {
		const option = options.find(o => matches(o, value));
		if (option) {
			this.value = option.value;
			option.selected = true;
			this.dispatchEvent(new Event('input', {bubbles: true}));
			this.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
	}
	return false;
}`

const SetValue = `function(value) {
	this.value = value;
}`

const FireInputAndChange = `function() {
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

const GetValue = `function() {
	return this.value;
}`

const SelectAll = `function() {
	this.select();
}`

const Focus = `function() {
	this.focus();
}`

// GetAttributePath walks a property path from `this`.
const GetAttributePath = `function(path) {
	let it = this;
	for (const key of path) {
		if (it === undefined || it === null) return undefined;
		it = it[key];
	}
	return it;
}`

// SetAttributePath assigns the last key of a property path.
const SetAttributePath = `function(path, value) {
	let it = this;
	for (let i = 0; i < path.length - 1; i++) {
		it = it[path[i]];
	}
	it[path[path.length - 1]] = value;
}`

const OuterHTML = `function() {
	return this.outerHTML;
}`

// CheckOnTop reports whether `this` (or a descendant) is the topmost element
// at its centre point.
const CheckOnTop = `function() {
	const r = this.getBoundingClientRect();
	const top = this.ownerDocument.elementFromPoint((r.left + r.right) / 2, (r.top + r.bottom) / 2);
	return !!top && (top === this || this.contains(top));
}`

// -- Semantic candidates --

// FormControls lists the elements a role/objective classification considers.
const FormControls = `function() {
	return Array.from(this.querySelectorAll('input, select, textarea, button, a[href], [role]'));
}`

// DescribeControl summarizes one candidate for the classifier prompt.
const DescribeControl = `function() {
	const label = this.labels && this.labels.length ? this.labels[0].innerText : '';
	return {
		tag: this.tagName.toLowerCase(),
		type: this.getAttribute('type') || '',
		id: this.id || '',
		name: this.getAttribute('name') || '',
		placeholder: this.getAttribute('placeholder') || '',
		aria_label: this.getAttribute('aria-label') || '',
		autocomplete: this.getAttribute('autocomplete') || '',
		label: label,
		text: (this.innerText || '').slice(0, 80),
	};
}`
