package finding

import "strings"

// Raw is a loosely-typed finding as reported by an agent's model output or
// an analysis service response.
type Raw struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"`
	Type        string            `json:"type"`
	Endpoint    string            `json:"endpoint"`
	Parameter   string            `json:"parameter"`
	Method      string            `json:"method"`
	Payload     string            `json:"payload"`
	Response    string            `json:"response"`
	Remediation string            `json:"remediation"`
	References  map[string]string `json:"references"`
}

// Normalize converts r into a Finding attributed to provenance. Missing
// titles and types take the given defaults; unknown severities become medium.
func (r Raw) Normalize(defaultTitle, defaultType, provenance string) Finding {
	sev, err := ParseSeverity(r.Severity)
	if err != nil {
		sev = Medium
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = defaultTitle
	}
	vt := strings.TrimSpace(r.Type)
	if vt == "" {
		vt = defaultType
	}
	return Finding{
		Title:             title,
		Description:       r.Description,
		Severity:          sev,
		Status:            StatusOpen,
		VulnerabilityType: vt,
		Endpoint:          r.Endpoint,
		Parameter:         r.Parameter,
		Method:            strings.ToUpper(r.Method),
		RequestSample:     r.Payload,
		ResponseSample:    r.Response,
		Remediation:       r.Remediation,
		References:        r.References,
		CreatedByAgent:    provenance,
	}
}
