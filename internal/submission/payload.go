package submission

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is the enrichment an operator commits for one item.
type Payload struct {
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	URL         string          `json:"url,omitempty"`
	Note        string          `json:"note,omitempty"`
	Description map[string]any  `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	BatchCode   string          `json:"batchCode,omitempty"`
	QA          string          `json:"qa,omitempty"`
	QATime      *time.Time      `json:"timestamp,omitempty"`
	Images      []string        `json:"imageUrls,omitempty"`
}

// FieldError names one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a payload. It is returned
// before the lease layer is touched.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// ErrorKind classifies the failure for transport status mapping.
func (e *ValidationError) ErrorKind() string { return "validation" }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Normalize trims surrounding whitespace from the text fields.
func (p *Payload) Normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.URL = strings.TrimSpace(p.URL)
	p.Note = strings.TrimSpace(p.Note)
	p.Location = strings.TrimSpace(p.Location)
	p.BatchCode = strings.TrimSpace(p.BatchCode)
	p.QA = strings.TrimSpace(p.QA)
	images := p.Images[:0]
	for _, ref := range p.Images {
		if ref = strings.TrimSpace(ref); ref != "" {
			images = append(images, ref)
		}
	}
	p.Images = images
}

// Validate returns a *ValidationError when the payload cannot be committed.
func (p Payload) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Title) == "" {
		verr.add("title", "is required")
	}
	if p.Price.IsNegative() {
		verr.add("price", "must not be negative, got %s", p.Price.String())
	}
	if raw := strings.TrimSpace(p.URL); raw != "" {
		if err := validateURL(raw); err != nil {
			verr.add("url", "%v", err)
		}
	}
	for i, ref := range p.Images {
		if strings.Contains(ref, "..") {
			verr.add(fmt.Sprintf("imageUrls[%d]", i), "must not contain '..'")
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("does not parse: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
