package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/edisonguo/jet"

	"github.com/nci/rastex/processor"
)

// ReportOptions controls what BuildReport gathers.
type ReportOptions struct {
	Title  string
	Filter *SliceFilter
	// Stat inspects every slice file on disk.
	Stat bool
	Conc int
}

// BuildReport describes ds and lists the catalog slices that pass the
// filter, in catalog order.
func BuildReport(ds *processor.Dataset, opts ReportOptions) (*DatasetReport, error) {
	report := &DatasetReport{
		DatasetInfo:  ds.Describe(),
		Title:        opts.Title,
		GeoTransform: ds.Descriptor().GeoTransform(),
	}

	cat := ds.Catalog()
	if cat == nil {
		return report, nil
	}
	report.Members = cat.Series

	for _, e := range cat.Entries {
		ok, err := opts.Filter.Match(e)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %v", e.SliceID, err)
		}
		if !ok {
			continue
		}
		report.Slices = append(report.Slices, &SliceInfo{
			SliceID: e.SliceID,
			Start:   e.Start,
			End:     e.End,
			Period:  processor.FormatTemporalDomain(e.Start, e.End),
			FileRef: e.FileRef,
		})
	}

	if opts.Stat {
		report.Missing = StatSlices(report.Slices, opts.Conc)
	}
	return report, nil
}

func WriteJSON(w io.Writer, report *DatasetReport) error {
	out, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

const reportTemplateName = "crawl_report.tpl"

const defaultReportTemplate = `dataset:      {{ .Name }}{{ if .Title }} ({{ .Title }}){{ end }}
default file: {{ .DefaultFile }}
size:         {{ .Descriptor.Width }} x {{ .Descriptor.Height }}, {{ .Descriptor.BandCount }} band(s) of {{ .Descriptor.PixelType.String() }}
geotransform: {{ range i, v := .GeoTransform }}{{ if i > 0 }}, {{ end }}{{ v }}{{ end }}
envelope:     {{ .Envelope.String() }}{{ if .Descriptor.CRS }}
crs:          {{ .Descriptor.CRS }}{{ end }}
series:       {{ len(.Series) }}{{ range i, name := .Series }}
  {{ name }}{{ end }}{{ if .HasTime }}
time domain:  {{ .TemporalDomain }}
slices:       {{ .DatasetInfo.Slices }}, {{ len(.Slices) }} listed, {{ .Missing }} missing{{ range i, s := .Slices }}
  {{ s.SliceID }}  {{ s.Period }}  {{ s.FileRef }}{{ if s.File }}  {{ s.File.Size }} bytes{{ end }}{{ if s.Error }}  missing{{ end }}{{ end }}{{ end }}
`

// WriteText renders the report with crawl_report.tpl from templateDir, or
// with the built-in template when templateDir is empty.
func WriteText(w io.Writer, report *DatasetReport, templateDir string) error {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), templateDir)

	var template *jet.Template
	var err error
	if templateDir == "" {
		template, err = view.LoadTemplate(reportTemplateName, defaultReportTemplate)
	} else {
		template, err = view.GetTemplate(reportTemplateName)
	}
	if err != nil {
		return fmt.Errorf("report template: %v", err)
	}

	var resBuf bytes.Buffer
	vars := make(jet.VarMap)
	if err := template.Execute(&resBuf, vars, report); err != nil {
		return fmt.Errorf("report template: %v", err)
	}
	_, err = w.Write(resBuf.Bytes())
	return err
}
