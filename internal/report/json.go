package report

import (
	"context"
	"encoding/json"
	"io"
)

type JSONRenderer struct {
	Branding Branding
}

func (r *JSONRenderer) Format() Format { return JSON }

func (r *JSONRenderer) Render(_ context.Context, in Input, w io.Writer) error {
	doc := struct {
		Report   string   `json:"report"`
		Branding Branding `json:"branding"`
		Input
	}{
		Report:   r.Branding.Company() + " Security Assessment",
		Branding: r.Branding,
		Input:    in,
	}
	doc.Findings = in.sortedFindings()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
