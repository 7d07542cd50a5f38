package ingestion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/jmespath/go-jmespath"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sage/pkg/models"
)

// DefaultFieldExpressions read the parser's output document. Each posting field may be
// overridden with a JMESPath expression.
var DefaultFieldExpressions = map[string]string{
	"broker_name":           "broker_name || broker.name",
	"broker_email":          "broker_email || broker.email",
	"origin.city":           "origin.city",
	"origin.state":          "origin.state",
	"origin.zip":            "origin.zip",
	"origin.lat":            "origin.lat",
	"origin.lng":            "origin.lng",
	"destination.city":      "destination.city",
	"destination.state":     "destination.state",
	"destination.zip":       "destination.zip",
	"destination.lat":       "destination.lat",
	"destination.lng":       "destination.lng",
	"pickup_window_start":   "pickup.window_start || pickup_window_start",
	"pickup_window_end":     "pickup.window_end || pickup_window_end",
	"delivery_window_start": "delivery.window_start || delivery_window_start",
	"delivery_window_end":   "delivery.window_end || delivery_window_end",
	"rate":                  "rate",
	"weight_lbs":            "weight_lbs || weight",
	"pieces":                "pieces",
	"length_feet":           "length_feet || length",
	"equipment_type":        "equipment_type || equipment",
	"reference_numbers":     "reference_numbers || references",
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

// ParseFieldMappings reads "field=expression" overrides. Blank entries are ignored.
func ParseFieldMappings(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range ectolinq.Filter(pairs, func(p string) bool { return strings.TrimSpace(p) != "" }) {
		field, expr, ok := strings.Cut(pair, "=")
		field, expr = strings.TrimSpace(field), strings.TrimSpace(expr)
		if !ok || field == "" || expr == "" {
			return nil, errors.Errorf("field mapping %q must look like field=expression", pair)
		}
		if _, known := DefaultFieldExpressions[field]; !known {
			return nil, errors.Errorf("field mapping %q names an unknown posting field", pair)
		}
		out[field] = expr
	}
	return out, nil
}

// Mapper turns parser output into posting fields with compiled JMESPath expressions.
type Mapper struct {
	compiled map[string]*jmespath.JMESPath
}

func NewMapper(overrides map[string]string) (*Mapper, error) {
	exprs := make(map[string]string, len(DefaultFieldExpressions))
	for field, expr := range DefaultFieldExpressions {
		exprs[field] = expr
	}
	for field, expr := range overrides {
		exprs[field] = expr
	}

	compiled := make(map[string]*jmespath.JMESPath, len(exprs))
	for field, expr := range exprs {
		c, err := jmespath.Compile(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid expression for %s", field)
		}
		compiled[field] = c
	}

	return &Mapper{compiled: compiled}, nil
}

// fieldError collects per-field conversion problems so a failed posting names all of them.
type fieldError struct {
	problems []string
}

func (e *fieldError) add(field string, err error) {
	e.problems = append(e.problems, fmt.Sprintf("%s: %v", field, err))
}

func (e *fieldError) err() error {
	if len(e.problems) == 0 {
		return nil
	}
	sort.Strings(e.problems)
	return errors.New("unreadable parser fields: " + strings.Join(e.problems, "; "))
}

// Map builds a posting for tenantID. Missing fields stay empty; a field that is present but
// cannot be converted is an error.
func (m *Mapper) Map(tenantID string, parsed models.ParsedPosting) (*models.LoadPosting, error) {
	p := &models.LoadPosting{
		TenantID:        tenantID,
		SourceChannel:   parsed.SourceChannel,
		SourceMessageID: parsed.SourceMessageID,
		Sender:          parsed.Sender,
		Subject:         parsed.Subject,
		RawBody:         parsed.RawBody,
		ReceivedAt:      parsed.ReceivedAt.UTC(),
		ExpiresAt:       parsed.ExpiresAt,
	}

	data := map[string]any(parsed.Fields)
	problems := &fieldError{}

	str := func(field string) string {
		v, err := m.compiled[field].Search(data)
		if err != nil {
			problems.add(field, err)
			return ""
		}
		s, err := asString(v)
		if err != nil {
			problems.add(field, err)
		}
		return s
	}
	num := func(field string) *float64 {
		v, err := m.compiled[field].Search(data)
		if err != nil {
			problems.add(field, err)
			return nil
		}
		f, err := asFloat(v)
		if err != nil {
			problems.add(field, err)
		}
		return f
	}
	when := func(field string) *time.Time {
		v, err := m.compiled[field].Search(data)
		if err != nil {
			problems.add(field, err)
			return nil
		}
		t, err := asTime(v)
		if err != nil {
			problems.add(field, err)
		}
		return t
	}

	p.BrokerName = str("broker_name")
	p.BrokerEmail = strings.ToLower(str("broker_email"))
	if p.BrokerEmail == "" {
		p.BrokerEmail = senderAddress(parsed.Sender)
	}
	p.Origin = models.Location{
		City:  str("origin.city"),
		State: strings.ToUpper(str("origin.state")),
		Zip:   str("origin.zip"),
		Lat:   num("origin.lat"),
		Lng:   num("origin.lng"),
	}
	p.Destination = models.Location{
		City:  str("destination.city"),
		State: strings.ToUpper(str("destination.state")),
		Zip:   str("destination.zip"),
		Lat:   num("destination.lat"),
		Lng:   num("destination.lng"),
	}
	p.PickupWindowStart = when("pickup_window_start")
	p.PickupWindowEnd = when("pickup_window_end")
	p.DeliveryWindowStart = when("delivery_window_start")
	p.DeliveryWindowEnd = when("delivery_window_end")
	p.WeightLbs = num("weight_lbs")
	p.LengthFeet = num("length_feet")
	p.EquipmentType = str("equipment_type")

	if rate := num("rate"); rate != nil {
		p.Rate = decimal.NewNullDecimal(decimal.NewFromFloat(*rate).Round(2))
	}
	if pieces := num("pieces"); pieces != nil {
		n := int(*pieces)
		p.Pieces = &n
	}

	refs, err := m.compiled["reference_numbers"].Search(data)
	if err != nil {
		problems.add("reference_numbers", err)
	}
	p.ReferenceNumbers, err = asStrings(refs)
	if err != nil {
		problems.add("reference_numbers", err)
	}

	return p, problems.err()
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", errors.Errorf("expected text, got %T", v)
	}
}

// asFloat accepts numbers and numeric text such as "$1,250.00" or "42,000 lbs".
func asFloat(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &t, nil
	case int:
		f := float64(t)
		return &f, nil
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, t)
		if cleaned == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a number", t)
		}
		return &f, nil
	default:
		return nil, errors.Errorf("expected a number, got %T", v)
	}
}

func asTime(v any) (*time.Time, error) {
	s, err := asString(v)
	if err != nil || s == "" {
		return nil, err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, errors.Errorf("%q is not a recognised date", s)
}

func asStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, err := asString(item)
			if err != nil {
				return nil, err
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		parts := ectolinq.Map(strings.Split(t, ","), strings.TrimSpace)
		return ectolinq.Filter(parts, func(s string) bool { return s != "" }), nil
	default:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

// senderAddress pulls the address out of "Name <addr>" style senders.
func senderAddress(sender string) string {
	if start := strings.LastIndex(sender, "<"); start >= 0 {
		if end := strings.LastIndex(sender, ">"); end > start {
			return strings.ToLower(strings.TrimSpace(sender[start+1 : end]))
		}
	}
	if strings.Contains(sender, "@") {
		return strings.ToLower(strings.TrimSpace(sender))
	}
	return ""
}
