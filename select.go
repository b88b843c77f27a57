package regress

import (
	"fmt"
	"strings"

	"github.com/tebeka/selenium"
)

// Select drives a <select> dropdown.
type Select struct {
	el      *Element
	isMulti bool
}

// Select returns the dropdown helper for e, which must be a <select>.
func (e *Element) Select() (*Select, error) {
	tag, err := e.TagName()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(tag, "select") {
		return nil, fmt.Errorf(`element should have been "select" but was %q`, tag)
	}
	s := &Select{el: e}
	if mult, err := e.GetAttribute("multiple"); err == nil && mult != "" && !strings.EqualFold(mult, "false") {
		s.isMulti = true
	}
	return s, nil
}

// Element returns the <select> element.
func (s *Select) Element() *Element {
	return s.el
}

// IsMultiple reports whether several options can be selected at once.
func (s *Select) IsMultiple() bool {
	return s.isMulti
}

// Options returns all options of the dropdown, in document order.
func (s *Select) Options() ([]*Element, error) {
	return s.el.findAll(selenium.ByTagName, "option")
}

// Selected returns the selected options.
func (s *Select) Selected() ([]*Element, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}
	var sel []*Element
	for _, o := range opts {
		ok, err := o.IsSelected()
		if err != nil {
			return nil, err
		}
		if ok {
			sel = append(sel, o)
		}
	}
	return sel, nil
}

// SelectByText selects the options whose visible text is text, ignoring
// surrounding whitespace. A single-choice dropdown stops at the first match.
func (s *Select) SelectByText(text string) error {
	opts, err := s.el.Xs(".//option[normalize-space(.) = " + xpathLiteral(strings.TrimSpace(text)) + "]")
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		return fmt.Errorf("cannot locate option with text %q", text)
	}
	return s.selectAll(opts)
}

// SelectByValue selects the options whose value attribute is value.
func (s *Select) SelectByValue(value string) error {
	opts, err := s.el.Xs(".//option[@value = " + xpathLiteral(value) + "]")
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		return fmt.Errorf("cannot locate option with value %q", value)
	}
	return s.selectAll(opts)
}

// SelectByIndex selects the idx'th option, counting from zero.
func (s *Select) SelectByIndex(idx int) error {
	opts, err := s.Options()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(opts) {
		return fmt.Errorf("cannot locate option with index %d of %d", idx, len(opts))
	}
	return setSelected(opts[idx], true)
}

// DeselectAll clears a multiple-choice dropdown.
func (s *Select) DeselectAll() error {
	if !s.isMulti {
		return fmt.Errorf("you may only deselect all options of a multi-select")
	}
	opts, err := s.Options()
	if err != nil {
		return err
	}
	for _, o := range opts {
		if err := setSelected(o, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Select) selectAll(opts []*Element) error {
	for _, o := range opts {
		if err := setSelected(o, true); err != nil {
			return err
		}
		if !s.isMulti {
			return nil
		}
	}
	return nil
}

func setSelected(o *Element, selected bool) error {
	sel, err := o.IsSelected()
	if err != nil {
		return err
	}
	if sel != selected {
		return o.Click()
	}
	return nil
}

// xpathLiteral quotes s as an XPath string literal. XPath 1.0 has no escape
// sequences, so strings holding both quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
