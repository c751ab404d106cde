package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CartLine is a cart entry in its stored, unvalidated shape.
type CartLine map[string]any

// Cart line keys.
const (
	CartLineProductID = "productId"
	CartLineQuantity  = "quantity"
	CartLineColor     = "color"
	CartLinePrice     = "price"
	CartLineImage     = "image"
)

// ErrMalformedCartItems is returned when stored cart items cannot be read as a list.
var ErrMalformedCartItems = errors.New("cart: malformed items")

// DecodeCartLines reads stored cart items that may be a JSON document (text or
// bytes) or an already decoded list.
func DecodeCartLines(raw any) ([]CartLine, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []CartLine:
		return v, nil
	case string:
		return decodeCartLinesJSON([]byte(v))
	case []byte:
		return decodeCartLinesJSON(v)
	case json.RawMessage:
		return decodeCartLinesJSON(v)
	case []map[string]any:
		lines := make([]CartLine, 0, len(v))
		for _, item := range v {
			lines = append(lines, CartLine(item))
		}
		return lines, nil
	case []any:
		lines := make([]CartLine, 0, len(v))
		for _, item := range v {
			switch entry := item.(type) {
			case map[string]any:
				lines = append(lines, CartLine(entry))
			case CartLine:
				lines = append(lines, entry)
			default:
				// keep a placeholder so the loader can count it as discarded
				lines = append(lines, CartLine{})
			}
		}
		return lines, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedCartItems, raw)
	}
}

func decodeCartLinesJSON(data []byte) ([]CartLine, error) {
	text := strings.TrimSpace(string(data))
	if text == "" || text == "null" {
		return nil, nil
	}
	// double-encoded documents arrive as a JSON string holding the list
	if strings.HasPrefix(text, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCartItems, err)
		}
		return decodeCartLinesJSON([]byte(inner))
	}
	var items []any
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCartItems, err)
	}
	return DecodeCartLines(items)
}

// ProductID returns the numeric product reference, or false when it is
// missing, null-like or not numeric.
func (l CartLine) ProductID() (int64, bool) {
	return positiveInt(l[CartLineProductID])
}

// Quantity returns the requested quantity, or false when it is not a positive integer.
func (l CartLine) Quantity() (int, bool) {
	qty, ok := positiveInt(l[CartLineQuantity])
	if !ok || qty > math.MaxInt32 {
		return 0, false
	}
	return int(qty), true
}

// Color returns the selected colour variant, if any.
func (l CartLine) Color() string {
	value, _ := l[CartLineColor].(string)
	return strings.TrimSpace(value)
}

// Image returns the image captured when the item was added.
func (l CartLine) Image() string {
	value, _ := l[CartLineImage].(string)
	return strings.TrimSpace(value)
}

// Price returns the unit price captured when the item was added.
func (l CartLine) Price() int64 {
	switch v := l[CartLinePrice].(type) {
	case float64:
		return int64(math.Round(v))
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// NewCartLine builds a stored cart line from typed fields.
func NewCartLine(productID int64, quantity int, color string, price int64, image string) CartLine {
	line := CartLine{
		CartLineProductID: productID,
		CartLineQuantity:  quantity,
		CartLinePrice:     price,
	}
	if color = strings.TrimSpace(color); color != "" {
		line[CartLineColor] = color
	}
	if image = strings.TrimSpace(image); image != "" {
		line[CartLineImage] = image
	}
	return line
}

func positiveInt(value any) (int64, bool) {
	var n int64
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		n = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		n = parsed
	case string:
		trimmed := strings.TrimSpace(v)
		switch strings.ToLower(trimmed) {
		case "", "null", "undefined", "nan":
			return 0, false
		}
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
