package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"batchmint/pkg/models"
)

// csvHeader is the fixed column order for tabular input
var csvHeader = []string{
	"id", "name", "description", "assets", "chain", "collection",
	"properties", "price", "currency", "supply", "action",
}

func decodeCSV(data []byte) ([]*models.Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := idx["name"]; !ok {
		return nil, fmt.Errorf("csv header is missing the name column")
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []*models.Record
	for n, row := range rows[1:] {
		rec := &models.Record{
			ID:          field(row, "id"),
			Name:        field(row, "name"),
			Description: field(row, "description"),
			Chain:       field(row, "chain"),
			Collection:  field(row, "collection"),
			Currency:    field(row, "currency"),
		}

		if assets := field(row, "assets"); assets != "" {
			rec.AssetFiles = strings.Split(assets, ";")
		}
		if props := field(row, "properties"); props != "" {
			rec.Properties, err = decodeProperties(props)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", n+2, err)
			}
		}
		if price := field(row, "price"); price != "" {
			rec.Price, err = strconv.ParseFloat(price, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid price %q", n+2, price)
			}
		}
		if supply := field(row, "supply"); supply != "" {
			rec.Supply, err = strconv.Atoi(supply)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid supply %q", n+2, supply)
			}
		}
		if action := field(row, "action"); action != "" {
			rec.Action, err = models.ParseAction(action)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", n+2, err)
			}
		}

		records = append(records, rec)
	}
	return records, nil
}

func encodeCSV(records []*models.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		price := ""
		if rec.Price != 0 {
			price = strconv.FormatFloat(rec.Price, 'f', -1, 64)
		}
		supply := ""
		if rec.Supply != 0 {
			supply = strconv.Itoa(rec.Supply)
		}
		row := []string{
			rec.ID,
			rec.Name,
			rec.Description,
			strings.Join(rec.AssetFiles, ";"),
			rec.Chain,
			rec.Collection,
			encodeProperties(rec.Properties),
			price,
			rec.Currency,
			supply,
			string(rec.Action),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

// Properties travel in one CSV cell as "name=value;name:kind=value".
// The kind suffix is omitted for plain text traits.
func encodeProperties(props []models.Property) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		name := p.Name
		if p.Kind != "" && p.Kind != models.PropertyText {
			name = fmt.Sprintf("%s:%s", p.Name, p.Kind)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, p.Value))
	}
	return strings.Join(parts, ";")
}

func decodeProperties(s string) ([]models.Property, error) {
	var props []models.Property
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.Index(part, "=")
		if eq < 1 {
			return nil, fmt.Errorf("invalid property %q (expected name=value)", part)
		}
		name, value := part[:eq], part[eq+1:]

		prop := models.Property{Name: name, Value: value}
		if colon := strings.Index(name, ":"); colon >= 0 {
			kind := models.PropertyKind(name[colon+1:])
			switch kind {
			case models.PropertyNumber, models.PropertyBoolean, models.PropertyText:
				prop.Name = name[:colon]
				prop.Kind = kind
			default:
				return nil, fmt.Errorf("invalid property kind in %q", part)
			}
		}
		props = append(props, prop)
	}
	return props, nil
}
