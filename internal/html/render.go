package html

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"

	"github.com/raphi011/proberun/internal/html/util"
	"github.com/raphi011/proberun/internal/model"
)

//go:embed results.tmpl
var resultsTemplate string

//go:embed result.tmpl
var resultTemplate string

var templatesByName map[string]*template.Template

var funcs = template.FuncMap{
	"relative": util.FormatRelativeTime,
	"outcome":  outcome,
	"bytes":    util.FormatKB,
}

func init() {
	templatesByName = make(map[string]*template.Template)

	templates := []struct {
		name     string
		template string
	}{
		{name: "results", template: resultsTemplate},
		{name: "result", template: resultTemplate},
	}

	for _, t := range templates {
		template, err := template.New(t.name).Funcs(funcs).Parse(t.template)
		if err != nil {
			panic(fmt.Sprintf("unable to parse html template %s: %v", t.name, err))
		}

		templatesByName[t.name] = template
	}
}

// ResultPage is a result together with its measurements.
type ResultPage struct {
	Result       model.Result
	Measurements []model.Measurement
}

func RenderResults(results []model.Result, w io.Writer) error {
	return templatesByName["results"].Execute(w, results)
}

func RenderResult(page ResultPage, w io.Writer) error {
	return templatesByName["result"].Execute(w, page)
}

func outcome(m model.Measurement) string {
	switch {
	case !m.IsDone:
		return "running"
	case m.IsFailed:
		return "failed"
	case m.IsAnomaly:
		return "anomaly"
	}

	return "ok"
}
