package models

// orderFlow is the forward fulfilment path; CANCELLED sits outside it
var orderFlow = map[OrderStatus]int{
	OrderStatusPendingPayment: 0,
	OrderStatusPaid:           1,
	OrderStatusProcessing:     2,
	OrderStatusShipping:       3,
	OrderStatusSuccess:        4,
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	_, ok := orderFlow[s]
	return ok || s == OrderStatusCancelled
}

// Terminal reports whether no further transition may leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusSuccess || s == OrderStatusCancelled
}

// advances reports whether to is a later step than s on the fulfilment path
func (s OrderStatus) advances(to OrderStatus) bool {
	from, ok := orderFlow[s]
	if !ok {
		return false
	}
	next, ok := orderFlow[to]
	return ok && next > from
}

// CanTransition reports whether the order state machine allows s -> to.
// CANCELLED is reachable from every non-terminal state.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s.Terminal() || s == to {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	return s.advances(to)
}

// Valid reports whether m is a supported payment method
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodBankTransfer
}

// RequiresTransfer reports whether orders paid with m wait for a bank transfer
func (m PaymentMethod) RequiresTransfer() bool {
	return m == PaymentMethodBankTransfer
}

// Terminal reports whether the attempt has been settled either way
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusPaid || s == AttemptStatusFailed
}
