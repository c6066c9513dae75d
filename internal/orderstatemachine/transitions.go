package orderstatemachine

import "executioncore/internal/core"

// allowedTransitions is the order state machine's transition graph (spec
// §3/§4.D). A status absent from the map (the four terminal statuses) has no
// outgoing edges.
var allowedTransitions = map[core.OrderStatus][]core.OrderStatus{
	core.OrderStatusNew: {
		core.OrderStatusSubmitted,
		core.OrderStatusRejected,
	},
	core.OrderStatusSubmitted: {
		core.OrderStatusOpen,
		core.OrderStatusRejected,
		core.OrderStatusExpired,
	},
	core.OrderStatusOpen: {
		core.OrderStatusPartiallyFilled,
		core.OrderStatusFilled,
		core.OrderStatusCanceling,
		core.OrderStatusCanceled,
		core.OrderStatusRejected,
		core.OrderStatusExpired,
	},
	core.OrderStatusPartiallyFilled: {
		core.OrderStatusFilled,
		core.OrderStatusCanceling,
		core.OrderStatusCanceled,
		core.OrderStatusRejected,
	},
	core.OrderStatusCanceling: {
		core.OrderStatusCanceled,
	},
}

func isAllowedTransition(from, to core.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
