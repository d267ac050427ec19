package orders

import "github.com/angelmondragon/farmcart-backend/pkg/enums"

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed: {enums.OrderStatusPreparing, enums.OrderStatusCancelled},
	enums.OrderStatusPreparing: {enums.OrderStatusReady, enums.OrderStatusCancelled},
	enums.OrderStatusReady:     {enums.OrderStatusDelivered, enums.OrderStatusCancelled},
}

// CanTransition reports whether an order may move from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
