package models

import (
	"slices"
	"time"
)

// OrderState is the lifecycle position of an order
type OrderState string

const (
	StateDraft              OrderState = "draft"
	StatePaid               OrderState = "paid"
	StatePaymentFailed      OrderState = "payment_failed"
	StateFulfillmentPending OrderState = "fulfillment_pending"
	StateFulfillmentSynced  OrderState = "fulfillment_synced"
	StateFulfillmentSkipped OrderState = "fulfillment_skipped"
	StateShipped            OrderState = "shipped"
	StateDelivered          OrderState = "delivered"
	StateCancelled          OrderState = "cancelled"
)

// Status returns display status of the state
func (s OrderState) Status() string {
	switch s {
	case StatePaymentFailed:
		return OrderStatusPaymentFailed
	case StateShipped:
		return OrderStatusShipped
	case StateDelivered:
		return OrderStatusDelivered
	case StateCancelled:
		return OrderStatusCancelled
	default:
		return OrderStatusProcessing
	}
}

// Terminal reports whether no transition leaves the state
func (s OrderState) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

var allowedTransitions = map[OrderState][]OrderState{
	StateDraft:              {StatePaid, StatePaymentFailed},
	StatePaid:               {StateFulfillmentPending, StateShipped, StateDelivered, StateCancelled},
	StatePaymentFailed:      {StatePaid, StateShipped, StateDelivered, StateCancelled},
	StateFulfillmentPending: {StateFulfillmentSynced, StateFulfillmentSkipped, StateShipped, StateDelivered, StateCancelled},
	StateFulfillmentSynced:  {StateShipped, StateDelivered, StateCancelled},
	StateFulfillmentSkipped: {StateFulfillmentPending, StateShipped, StateDelivered, StateCancelled},
	StateShipped:            {StateDelivered},
}

// CanTransition reports whether the order may move from one state to another
func CanTransition(from, to OrderState) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// EventKind is what happened to an order
type EventKind int

const (
	EventPaymentCaptured EventKind = iota + 1
	EventPaymentRejected
	EventFulfillmentRequested
	EventFulfillmentSucceeded
	EventFulfillmentFailed
	EventShipped
	EventDelivered
	EventCancelled
)

var eventTargets = map[EventKind]OrderState{
	EventPaymentCaptured:      StatePaid,
	EventPaymentRejected:      StatePaymentFailed,
	EventFulfillmentRequested: StateFulfillmentPending,
	EventFulfillmentSucceeded: StateFulfillmentSynced,
	EventFulfillmentFailed:    StateFulfillmentSkipped,
	EventShipped:              StateShipped,
	EventDelivered:            StateDelivered,
	EventCancelled:            StateCancelled,
}

// Event is applied to an order to produce its next snapshot
type Event struct {
	Kind        EventKind
	At          time.Time
	Payment     *PaymentResult
	Fulfillment *FulfillmentResult
}

// EventForStatus maps an admin supplied display status to an event
func EventForStatus(status string) (EventKind, bool) {
	switch status {
	case OrderStatusShipped:
		return EventShipped, true
	case OrderStatusDelivered:
		return EventDelivered, true
	case OrderStatusCancelled:
		return EventCancelled, true
	}
	return 0, false
}

// Apply returns the order snapshot after ev. The passed order is never modified.
func Apply(order Order, ev Event) (Order, error) {
	to, ok := eventTargets[ev.Kind]
	if !ok {
		return Order{}, &ValidationError{Field: "event", Reason: "unknown event"}
	}
	if !CanTransition(order.State, to) {
		return Order{}, &TransitionError{From: order.State, To: to}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	next := order.Clone()
	next.State = to
	next.Status = to.Status()
	next.UpdatedAt = at

	switch ev.Kind {
	case EventPaymentCaptured:
		if ev.Payment == nil || ev.Payment.Status != PaymentStatusCompleted {
			return Order{}, &ValidationError{Field: "paymentResult", Reason: "payment is not completed"}
		}
		pr := *ev.Payment
		next.PaymentResult = &pr
		next.IsPaid = true
		next.PaidAt = &at
	case EventPaymentRejected:
		if ev.Payment != nil {
			pr := *ev.Payment
			next.PaymentResult = &pr
		}
		next.IsPaid = false
		next.PaidAt = nil
	case EventFulfillmentSucceeded:
		if ev.Fulfillment == nil || ev.Fulfillment.ExternalOrderID == "" {
			return Order{}, &ValidationError{Field: "fulfillment", Reason: "missing external order id"}
		}
		id, status := ev.Fulfillment.ExternalOrderID, ev.Fulfillment.ExternalStatus
		next.FulfillmentID = &id
		next.FulfillmentStatus = &status
	case EventDelivered:
		next.IsDelivered = true
		next.DeliveredAt = &at
		// cash on delivery is collected by the courier
		if !next.IsPaid {
			next.IsPaid = true
			next.PaidAt = &at
		}
	}

	return next, nil
}
