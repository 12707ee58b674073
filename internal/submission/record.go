package submission

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"intake/internal/backlog"
)

// Record is the committed form of an item, stored as its payload JSON.
type Record struct {
	Session     string          `json:"session"`
	Label       string          `json:"label"`
	Number      string          `json:"number"`
	SKU         string          `json:"sku,omitempty"`
	URL         string          `json:"url,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Title       string          `json:"title"`
	Note        string          `json:"note,omitempty"`
	Description map[string]any  `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	BatchCode   string          `json:"batchCode,omitempty"`
	QA          string          `json:"qa,omitempty"`
	QATime      *time.Time      `json:"timestamp,omitempty"`
	Images      []string        `json:"imageUrls"`
	CoverImage  string          `json:"coverImage,omitempty"`
	ImageCount  int             `json:"imageCount"`
	Recorder    string          `json:"recorder"`
	RecordedAt  time.Time       `json:"recordedAt"`
}

var labelCaser = cases.Upper(language.Und)

// NormalizeLabel upper-cases a label the way records are filed.
func NormalizeLabel(label string) string {
	return labelCaser.String(strings.TrimSpace(label))
}

// BuildRecord merges the operator payload over the stored item. Payload values
// win; empty payload fields fall back to what ingestion recorded.
func BuildRecord(item *backlog.Item, payload Payload, holder string, now time.Time) Record {
	images := payload.Images
	if images == nil {
		images = []string{}
	}
	rec := Record{
		Session:     item.Session,
		Label:       NormalizeLabel(item.Label),
		Number:      item.Number,
		SKU:         item.SKU,
		URL:         firstNonEmpty(payload.URL, item.URL),
		Price:       payload.Price,
		Title:       payload.Title,
		Note:        firstNonEmpty(payload.Note, item.Note),
		Description: payload.Description,
		Location:    firstNonEmpty(payload.Location, item.Location),
		BatchCode:   firstNonEmpty(payload.BatchCode, item.BatchCode),
		QA:          firstNonEmpty(payload.QA, item.QA),
		QATime:      payload.QATime,
		Images:      images,
		ImageCount:  len(images),
		Recorder:    holder,
		RecordedAt:  now.UTC(),
	}
	if rec.QATime == nil {
		rec.QATime = item.InspectedAt
	}
	if len(images) > 0 {
		rec.CoverImage = images[0]
	}
	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
