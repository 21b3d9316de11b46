package stencil

import (
	"errors"

	"github.com/dpotapov/go-stencil/shtml"
)

// excerptRadius is the number of source lines shown before and after an error line.
const excerptRadius = 3

// ErrorView is a presentation model of a compilation error for diagnostic output.
type ErrorView struct {
	// Kind is the shtml.ErrorKind name of a compile error, or "generic".
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Template   string         `json:"template,omitempty"`
	Line       int            `json:"line,omitempty"`
	Column     int            `json:"column,omitempty"`
	Chain      []string       `json:"chain,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    string         `json:"context,omitempty"`
	Source     *SourceExcerpt `json:"source,omitempty"`
}

// ErrorViews flattens err into views. Joined errors produce a view each, compile errors
// are enriched with the source excerpt and the markup context of the failing node.
func (e *Engine) ErrorViews(err error) []ErrorView {
	var views []ErrorView
	for _, err := range flattenErrors(err) {
		var ce *shtml.CompileError
		if !errors.As(err, &ce) {
			views = append(views, ErrorView{Kind: "generic", Message: err.Error()})
			continue
		}
		views = append(views, ErrorView{
			Kind:       ce.Kind.String(),
			Message:    ce.Msg,
			Template:   ce.Template,
			Line:       ce.Line,
			Column:     ce.Column,
			Chain:      ce.Chain,
			Suggestion: ce.Suggestion,
			Context:    ce.HTMLContext(),
			Source:     e.Excerpt(ce, excerptRadius),
		})
	}
	return views
}

func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}
	multierr, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var errs []error
	for _, err := range multierr.Unwrap() {
		errs = append(errs, flattenErrors(err)...)
	}
	return errs
}
