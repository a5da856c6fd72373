package qr

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// DeliveryNote is the load declared on a printed delivery note
type DeliveryNote struct {
	ProductType string  `json:"product_type"`
	LoadL       float64 `json:"load_l"`
	Note        string  `json:"note"`
}

var (
	productKeys = []string{"product_type", "product", "prod"}
	loadKeys    = []string{"load_l", "liters", "litros", "cantidad", "qty"}
	noteKeys    = []string{"note", "nota"}
)

// ParseDeliveryNote decodes a delivery-note QR, either a JSON object or a
// query string. It returns false when the text carries neither.
func ParseDeliveryNote(text string) (DeliveryNote, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DeliveryNote{}, false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return DeliveryNote{
			ProductType: firstString(obj, productKeys),
			LoadL:       firstNumber(obj, loadKeys),
			Note:        firstString(obj, noteKeys),
		}, true
	}

	if i := strings.Index(text, "?"); i >= 0 {
		text = text[i+1:]
	}
	q, err := url.ParseQuery(text)
	if err != nil || len(q) == 0 {
		return DeliveryNote{}, false
	}
	note := DeliveryNote{
		ProductType: first(q, productKeys...),
		Note:        first(q, noteKeys...),
	}
	if v := first(q, loadKeys...); v != "" {
		note.LoadL, _ = strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	}
	return note, true
}

func firstString(obj map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(obj map[string]interface{}, keys []string) float64 {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			if v != 0 {
				return v
			}
		case string:
			if f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64); err == nil && f != 0 {
				return f
			}
		}
	}
	return 0
}
