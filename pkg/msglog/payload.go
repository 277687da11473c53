package msglog

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Payload is the order style JSON some clients send as message content.
type Payload struct {
	ID         string `json:"id,omitempty"`
	Type       *int   `json:"type,omitempty"`
	Message    string `json:"message,omitempty"`
	Items      []Item `json:"items,omitempty"`
	ShippingID string `json:"shipping_id,omitempty"`
}

// ParsePayload decodes content when it is a JSON object carrying any of the
// payload fields. Plain text gives ok false.
func ParsePayload(content string) (p Payload, ok bool) {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "{") {
		return
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, false
	}
	ok = p.ID != "" || p.Type != nil || p.Message != "" || len(p.Items) > 0 || p.ShippingID != ""
	return
}

// Lines renders the payload for a terminal, one field per line.
func (p Payload) Lines() (lines []string) {
	if p.Message != "" {
		lines = append(lines, "Message: "+p.Message)
	}
	if len(p.Items) > 0 {
		lines = append(lines, "Items:")
		for _, it := range p.Items {
			lines = append(lines, fmt.Sprintf("  - Product ID: %s, Quantity: %d", it.ProductID, it.Quantity))
		}
	}
	if p.ShippingID != "" {
		lines = append(lines, "Shipping ID: "+p.ShippingID)
	}
	if p.Type != nil {
		lines = append(lines, fmt.Sprintf("Type: %d", *p.Type))
	}
	if p.ID != "" {
		lines = append(lines, "ID: "+p.ID)
	}
	return
}

// Render returns content as display lines, expanding structured payloads.
func Render(content string) []string {
	if p, ok := ParsePayload(content); ok {
		return p.Lines()
	}
	return strings.Split(content, "\n")
}
