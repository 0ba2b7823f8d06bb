package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/marketing-agent/internal/model"
)

// RawRecord is a loosely typed record from an upstream feed adapter. Field
// names and value types vary per source; normalization maps them onto the
// canonical shape.
type RawRecord map[string]any

// ValidationError reports a single bad record. The batch continues; only the
// offending record is skipped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: invalid %s: %s", e.Field, e.Reason)
}

const (
	maxExternalIDLen = 255
	maxNameLen       = 500
)

// dateFormats are tried in order when parsing feed dates.
var dateFormats = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"}

// Normalized is a validated record in canonical form, ready for the two
// upserts.
type Normalized struct {
	ExternalID  string
	Name        string
	Status      model.CampaignStatus
	Date        string // YYYY-MM-DD
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
	Revenue     float64
}

// Options tunes source-specific normalization policies.
type Options struct {
	// ImpressionsPerSession estimates impressions from GA4 sessions when the
	// feed carries no impression count. Sessions roughly track clicks, and
	// this multiplier is an explicit modeling choice, not platform data.
	ImpressionsPerSession float64
}

// Normalize maps a raw feed record onto the canonical shape. Field lookups
// follow per-source fallback chains; numeric fields coerce with a zero
// default; a missing identifier, name, or date rejects the record.
func Normalize(raw RawRecord, source model.Source, opts Options) (*Normalized, error) {
	if !source.Valid() {
		return nil, &ValidationError{Field: "source", Reason: fmt.Sprintf("unrecognized source %q", source)}
	}

	name := sanitize(firstString(raw, "campaign", "campaign_name"), maxNameLen)
	if name == "" {
		return nil, &ValidationError{Field: "campaign_name", Reason: "missing campaign name"}
	}

	// Prefer an explicit id; fall back to a slug of the campaign name so
	// GA4-style dimension rows without ids still reconcile stably.
	externalID := sanitize(firstString(raw, "external_id", "campaign_id"), maxExternalIDLen)
	if externalID == "" {
		externalID = Slug(name)
	}
	if externalID == "" {
		return nil, &ValidationError{Field: "external_id", Reason: "missing external id"}
	}

	rawDate := firstString(raw, "date", "date_start")
	if rawDate == "" {
		return nil, &ValidationError{Field: "date", Reason: "missing date"}
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return nil, &ValidationError{Field: "date", Reason: err.Error()}
	}

	n := &Normalized{
		ExternalID:  externalID,
		Name:        name,
		Status:      model.NormalizeCampaignStatus(firstString(raw, "status")),
		Date:        date,
		Impressions: coerceInt(firstValue(raw, "impressions")),
		Clicks:      coerceInt(firstValue(raw, "clicks")),
		Spend:       coerceFloat(firstValue(raw, "spend", "cost")),
		Conversions: coerceInt(firstValue(raw, "conversions", "purchases")),
		Revenue:     coerceFloat(firstValue(raw, "revenue", "value")),
	}

	// GA4 exports carry sessions, not ad impressions or clicks.
	if source == model.SourceGA4 {
		sessions := coerceInt(firstValue(raw, "sessions"))
		if sessions > 0 {
			if n.Clicks == 0 {
				n.Clicks = sessions
			}
			if n.Impressions == 0 {
				n.Impressions = int64(float64(sessions) * opts.ImpressionsPerSession)
			}
		}
	}

	if err := n.validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Normalized) validate() error {
	switch {
	case n.Impressions < 0:
		return &ValidationError{Field: "impressions", Reason: "must be non-negative"}
	case n.Clicks < 0:
		return &ValidationError{Field: "clicks", Reason: "must be non-negative"}
	case n.Spend < 0:
		return &ValidationError{Field: "spend", Reason: "must be non-negative"}
	case n.Conversions < 0:
		return &ValidationError{Field: "conversions", Reason: "must be non-negative"}
	case n.Revenue < 0:
		return &ValidationError{Field: "revenue", Reason: "must be non-negative"}
	case n.Impressions > 0 && n.Clicks > n.Impressions:
		return &ValidationError{Field: "clicks", Reason: "clicks cannot exceed impressions"}
	case n.Clicks > 0 && n.Conversions > n.Clicks:
		return &ValidationError{Field: "conversions", Reason: "conversions cannot exceed clicks"}
	}
	return nil
}

// ParseDate parses a feed date in any accepted format into YYYY-MM-DD.
func ParseDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unable to parse date %q", value)
}

// Slug derives a stable lowercase identifier from a display name.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func sanitize(value string, maxLen int) string {
	value = strings.TrimSpace(value)
	if len(value) > maxLen {
		value = value[:maxLen]
	}
	return value
}

// firstString returns the first non-empty string rendering of the named
// fields.
func firstString(raw RawRecord, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s != "" {
			return s
		}
	}
	return ""
}

// firstValue returns the first present, non-nil value of the named fields.
func firstValue(raw RawRecord, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			if coerceFloat(v) != 0 {
				return v
			}
		}
	}
	return nil
}

// coerceInt parses a numeric field with a zero default. Feeds string-encode
// numerics freely, so both native numbers and digit strings are accepted;
// anything else degrades to 0 rather than failing the record.
func coerceInt(v any) int64 {
	return int64(coerceFloat(v))
}

func coerceFloat(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
