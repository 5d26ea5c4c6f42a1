package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one anchor on the page, in document order.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Field is one control inside a form.
type Field struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Form is one form with its fields and submit controls.
type Form struct {
	Index   int     `json:"index"`
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name,omitempty"`
	Action  string  `json:"action,omitempty"`
	Method  string  `json:"method,omitempty"`
	Fields  []Field `json:"fields"`
	Submits []Field `json:"submits,omitempty"`
}

// Table is one extracted table.
type Table struct {
	Index   int        `json:"index"`
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// ContactForm is the result of contact-form detection.
type ContactForm struct {
	Found      bool    `json:"found"`
	FormIndex  int     `json:"form_index,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Fields     []Field `json:"fields,omitempty"`
}

func (r *Registry) document(ctx context.Context) (*goquery.Document, error) {
	html, err := r.driver.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

func (r *Registry) extractLinks(ctx context.Context) ([]Link, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	links := []Link{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			if aria, ok := sel.Attr("aria-label"); ok {
				text = strings.TrimSpace(aria)
			}
		}
		links = append(links, Link{Text: text, Href: href})
	})
	return links, nil
}

func (r *Registry) extractForms(ctx context.Context) ([]Form, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	forms := []Form{}
	doc.Find("form").Each(func(i int, sel *goquery.Selection) {
		form := Form{
			Index:  i,
			ID:     sel.AttrOr("id", ""),
			Name:   sel.AttrOr("name", ""),
			Action: sel.AttrOr("action", ""),
			Method: strings.ToUpper(sel.AttrOr("method", "GET")),
		}
		sel.Find("input, textarea, select").Each(func(_ int, fs *goquery.Selection) {
			field := fieldFrom(doc, fs)
			if field.Type == "submit" || field.Type == "image" {
				form.Submits = append(form.Submits, field)
				return
			}
			if field.Type == "hidden" {
				return
			}
			form.Fields = append(form.Fields, field)
		})
		sel.Find("button").Each(func(_ int, bs *goquery.Selection) {
			typ := bs.AttrOr("type", "submit")
			if typ == "submit" {
				form.Submits = append(form.Submits, Field{
					Tag: "button", Type: typ,
					Name:  bs.AttrOr("name", ""),
					ID:    bs.AttrOr("id", ""),
					Label: strings.TrimSpace(bs.Text()),
				})
			}
		})
		forms = append(forms, form)
	})
	return forms, nil
}

func (r *Registry) extractInputs(ctx context.Context) ([]Field, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	fields := []Field{}
	doc.Find("input, textarea, select").Each(func(_ int, sel *goquery.Selection) {
		field := fieldFrom(doc, sel)
		if field.Type == "hidden" {
			return
		}
		fields = append(fields, field)
	})
	return fields, nil
}

func (r *Registry) extractTables(ctx context.Context) ([]Table, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	tables := []Table{}
	doc.Find("table").Each(func(i int, sel *goquery.Selection) {
		table := Table{Index: i, Caption: strings.TrimSpace(sel.Find("caption").First().Text())}
		sel.Find("thead th, tr:first-child th").Each(func(_ int, hs *goquery.Selection) {
			table.Headers = append(table.Headers, strings.TrimSpace(hs.Text()))
		})
		sel.Find("tr").Each(func(_ int, rs *goquery.Selection) {
			cells := rs.Find("td")
			if cells.Length() == 0 {
				return
			}
			row := make([]string, 0, cells.Length())
			cells.Each(func(_ int, cs *goquery.Selection) {
				row = append(row, strings.TrimSpace(cs.Text()))
			})
			table.Rows = append(table.Rows, row)
		})
		tables = append(tables, table)
	})
	return tables, nil
}

// contactSignals maps field name/id/placeholder fragments to detection weight.
var contactSignals = map[string]float64{
	"email": 0.4, "e-mail": 0.4, "message": 0.3, "subject": 0.2,
	"name": 0.15, "phone": 0.15, "contact": 0.3, "inquiry": 0.3,
	"comment": 0.2,
}

// detectContactForm scores every form by its field vocabulary and returns
// the best scorer above 0.5, mirroring how a human recognizes "this is the
// contact page form" without site-specific rules.
func (r *Registry) detectContactForm(ctx context.Context) (*ContactForm, error) {
	forms, err := r.extractForms(ctx)
	if err != nil {
		return nil, err
	}

	best := ContactForm{Found: false}
	for _, form := range forms {
		score := 0.0
		hasTextarea := false
		var matched []string
		for _, field := range form.Fields {
			if field.Tag == "textarea" {
				hasTextarea = true
			}
			hay := strings.ToLower(field.Name + " " + field.ID + " " + field.Placeholder + " " + field.Label)
			for signal, weight := range contactSignals {
				if strings.Contains(hay, signal) {
					score += weight
					matched = append(matched, signal)
					break
				}
			}
		}
		if hasTextarea {
			score += 0.2
		}
		if score > 1 {
			score = 1
		}
		if score >= 0.5 && score > best.Confidence {
			best = ContactForm{
				Found:      true,
				FormIndex:  form.Index,
				Confidence: score,
				Reason:     fmt.Sprintf("fields match contact vocabulary: %s", strings.Join(matched, ", ")),
				Fields:     form.Fields,
			}
		}
	}
	if !best.Found {
		best.Reason = fmt.Sprintf("no form among %d scored as a contact form", len(forms))
	}
	return &best, nil
}

func (r *Registry) inspectHTML(ctx context.Context, selector string) (string, error) {
	html, err := r.driver.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	if selector == "" {
		return html, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("selector %q matched nothing", selector)
	}
	out, err := goquery.OuterHtml(sel.First())
	if err != nil {
		return "", fmt.Errorf("render selection: %w", err)
	}
	return out, nil
}

func fieldFrom(doc *goquery.Document, sel *goquery.Selection) Field {
	field := Field{
		Tag:         goquery.NodeName(sel),
		Type:        sel.AttrOr("type", ""),
		Name:        sel.AttrOr("name", ""),
		ID:          sel.AttrOr("id", ""),
		Placeholder: sel.AttrOr("placeholder", ""),
		Value:       sel.AttrOr("value", ""),
	}
	if field.Tag == "input" && field.Type == "" {
		field.Type = "text"
	}
	if _, ok := sel.Attr("required"); ok {
		field.Required = true
	}
	if field.ID != "" {
		label := doc.Find(fmt.Sprintf(`label[for=%q]`, field.ID)).First()
		if label.Length() > 0 {
			field.Label = strings.TrimSpace(label.Text())
		}
	}
	if field.Label == "" {
		if parent := sel.ParentsFiltered("label").First(); parent.Length() > 0 {
			field.Label = strings.TrimSpace(parent.Text())
		}
	}
	return field
}
