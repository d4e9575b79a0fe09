package truncation

import "fmt"

// ArrayWindow is the bounded replacement for an array. It serializes as an
// object so the accounting travels inline with the data.
type ArrayWindow struct {
	Items      []Value
	TotalCount int
	Showing    int
	Truncated  bool
	Summary    string
}

// TruncateArray keeps the first maxItems items. The summary sentence is set
// only when items were dropped and withSummary is true.
func TruncateArray(items []Value, maxItems int, withSummary bool) ArrayWindow {
	if maxItems < 0 {
		maxItems = 0
	}
	total := len(items)
	if total <= maxItems {
		return ArrayWindow{
			Items:      items,
			TotalCount: total,
			Showing:    total,
		}
	}

	w := ArrayWindow{
		Items:      items[:maxItems],
		TotalCount: total,
		Showing:    maxItems,
		Truncated:  true,
	}
	if withSummary {
		w.Summary = ArraySummary(maxItems, total)
	}
	return w
}

// ArraySummary describes how many items a window dropped.
func ArraySummary(showing, total int) string {
	return fmt.Sprintf("Showing first %d of %d items. %d items truncated.", showing, total, total-showing)
}

// Value renders the window with keys in the order
// items, total_count, showing, truncated, summary.
func (w ArrayWindow) Value() Value {
	members := []Member{
		Field("items", Array(w.Items...)),
		Field("total_count", Int(w.TotalCount)),
		Field("showing", Int(w.Showing)),
		Field("truncated", Bool(w.Truncated)),
	}
	if w.Summary != "" {
		members = append(members, Field("summary", String(w.Summary)))
	}
	return Object(members...)
}

// TruncateStructure bounds every array in v to maxItems elements.
//
// Objects are rebuilt member by member in their original order, arrays are
// replaced by their window (with summary), and scalars pass through. Kept
// array elements are processed too, so nested arrays are windowed
// independently; there is no budget shared across siblings.
func TruncateStructure(v Value, maxItems int) Value {
	switch v.kind {
	case KindObject:
		members := make([]Member, len(v.members))
		for i, m := range v.members {
			members[i] = Member{Key: m.Key, Value: TruncateStructure(m.Value, maxItems)}
		}
		return Object(members...)
	case KindArray:
		w := TruncateArray(v.elems, maxItems, true)
		kept := make([]Value, len(w.Items))
		for i, item := range w.Items {
			kept[i] = TruncateStructure(item, maxItems)
		}
		w.Items = kept
		return w.Value()
	default:
		return v
	}
}
