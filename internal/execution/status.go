package execution

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"kalshi_go/internal/domain"
)

// NormalizeStatus maps venue status spellings onto the order lifecycle.
// An empty status means the venue accepted the order without saying more.
func NormalizeStatus(raw string) (domain.OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "resting", "open", "pending", "submitted":
		return domain.StatusResting, true
	case "partially_filled", "partially-filled", "partial":
		return domain.StatusPartiallyFilled, true
	case "filled", "executed", "complete", "completed", "matched":
		return domain.StatusFilled, true
	case "canceled", "cancelled", "voided":
		return domain.StatusCanceled, true
	case "expired":
		return domain.StatusExpired, true
	case "failed", "rejected", "error":
		return domain.StatusRejected, true
	default:
		return "", false
	}
}

// ExtractQueuePositions walks a (possibly nested) payload and maps order ids and tickers to queue positions.
func ExtractQueuePositions(payload map[string]any) map[string]int {
	out := make(map[string]int)
	record := func(key any, value any) {
		if key == nil {
			return
		}
		pos, ok := asInt(value)
		if !ok {
			return
		}
		k := strings.TrimSpace(toString(key))
		if k == "" {
			return
		}
		out[k] = pos
	}

	var visit func(node any, parentKey string)
	visit = func(node any, parentKey string) {
		switch n := node.(type) {
		case map[string]any:
			qp, ok := n["queue_position"]
			if !ok || qp == nil {
				qp = n["position"]
			}
			if qp != nil {
				var parent any
				if parentKey != "" {
					parent = parentKey
				}
				for _, alias := range []any{parent, n["order_id"], n["external_order_id"], n["market_ticker"], n["ticker"]} {
					record(alias, qp)
				}
			}
			for k, v := range n {
				switch v.(type) {
				case map[string]any, []any:
					visit(v, k)
				default:
					if k == "queue_position" || k == "position" {
						if parentKey != "" {
							record(parentKey, v)
						}
					}
				}
			}
		case []any:
			for _, item := range n {
				visit(item, parentKey)
			}
		}
	}

	root, ok := payload["queue_positions"]
	if !ok || root == nil {
		root = any(payload)
	}
	visit(root, "")
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
