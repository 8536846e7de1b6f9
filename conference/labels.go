package conference

import (
	"fmt"
	"strings"
)

// OrderInput is the slice of order data the expected-label builder needs,
// as returned by the route store.
type OrderInput struct {
	OrderID      string
	ExternalRef  string
	TotalVolumes int
	Items        []ItemInput
	Labels       []string
}

// ItemInput is one itemized line entry of an order.
type ItemInput struct {
	SKU      string
	Quantity int
}

// BuildExpectedLabels derives the expected label multiset for a route from
// its orders. Real-world order data is inconsistent, so each order is
// resolved through a three-tier fallback:
//
//  1. explicit printed label strings, when the order carries them;
//  2. itemized line entries, one label per unit from 1..quantity;
//  3. a pseudo-product keyed by the order's external reference, one label
//     per declared volume.
//
// Orders that yield nothing under all three tiers contribute no labels.
func BuildExpectedLabels(orders []OrderInput) []ExpectedLabel {
	var labels []ExpectedLabel
	for _, order := range orders {
		switch {
		case len(order.Labels) > 0:
			for _, text := range order.Labels {
				labels = append(labels, labelFromText(order.OrderID, text))
			}
		case len(order.Items) > 0:
			for _, item := range order.Items {
				for i := 1; i <= item.Quantity; i++ {
					display := fmt.Sprintf("%d/%d-%s", i, item.Quantity, item.SKU)
					labels = append(labels, ExpectedLabel{
						Code:        Normalize(display),
						Display:     display,
						OrderID:     order.OrderID,
						ProductCode: strings.ToLower(item.SKU),
						VolumeIndex: i,
						VolumeTotal: item.Quantity,
					})
				}
			}
		case order.TotalVolumes > 0:
			ref := order.ExternalRef
			if ref == "" {
				ref = order.OrderID
			}
			for i := 1; i <= order.TotalVolumes; i++ {
				display := fmt.Sprintf("%d/%d-%s", i, order.TotalVolumes, ref)
				labels = append(labels, ExpectedLabel{
					Code:        Normalize(display),
					Display:     display,
					OrderID:     order.OrderID,
					ProductCode: strings.ToLower(ref),
					VolumeIndex: i,
					VolumeTotal: order.TotalVolumes,
				})
			}
		}
	}
	return labels
}

// labelFromText builds an ExpectedLabel from a printed label string. The
// volume index and total come from the label text itself when it has the
// canonical form; otherwise they stay zero and only the code is matchable.
func labelFromText(orderID, text string) ExpectedLabel {
	code := Normalize(text)
	index, total, product, ok := parseLabel(code)
	if !ok {
		product = ExtractProductCode(code)
	}
	return ExpectedLabel{
		Code:        code,
		Display:     text,
		OrderID:     orderID,
		ProductCode: product,
		VolumeIndex: index,
		VolumeTotal: total,
	}
}
