// Package order holds the order aggregate: the status state machine, item
// and discount mutation rules, and the totals algorithm. Orders are owned
// exclusively by the order service; other services only see its published
// events.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-platform/internal/principal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
	StatusFailed         Status = "failed"
	StatusOnHold         Status = "on_hold"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type ShippingStatus string

const (
	ShippingPending    ShippingStatus = "pending"
	ShippingProcessing ShippingStatus = "processing"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingDelivered  ShippingStatus = "delivered"
	ShippingReturned   ShippingStatus = "returned"
	ShippingCancelled  ShippingStatus = "cancelled"
)

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order must have at least one item")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOrderLocked       = errors.New("order contents can no longer be changed")
	ErrItemNotFound      = errors.New("item not found in order")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrCancelNotAllowed  = errors.New("order cannot be cancelled by this user")
	ErrNotRefundable     = errors.New("order payment is not completed")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// lockedStatuses are the statuses past which item and discount mutation is
// rejected.
var lockedStatuses = map[Status]bool{
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCompleted: true,
	StatusCancelled: true,
	StatusRefunded:  true,
}

// validTransitions enumerates the operative edges of the state machine.
// Cancellation and refund run through Cancel/Refund, which carry their own
// policies on top of this graph.
var validTransitions = map[Status][]Status{
	StatusPending:        {StatusProcessing, StatusPaymentPending, StatusPaid, StatusOnHold, StatusFailed, StatusCancelled},
	StatusPaymentPending: {StatusPaid, StatusFailed, StatusOnHold, StatusCancelled},
	StatusPaid:           {StatusProcessing, StatusShipped, StatusCompleted, StatusCancelled, StatusRefunded},
	StatusProcessing:     {StatusShipped, StatusOnHold, StatusCancelled, StatusCompleted},
	StatusShipped:        {StatusDelivered, StatusCancelled},
	StatusDelivered:      {StatusCompleted, StatusRefunded, StatusCancelled},
	StatusCompleted:      {StatusRefunded, StatusCancelled},
	StatusOnHold:         {StatusPending, StatusPaymentPending, StatusProcessing, StatusFailed, StatusCancelled},
	StatusFailed:         {StatusPending, StatusCancelled},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

type Address struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Payment struct {
	Method        string        `json:"method"`
	TransactionID string        `json:"transactionId,omitempty"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
}

type Shipping struct {
	Method         string         `json:"method,omitempty"`
	Carrier        string         `json:"carrier,omitempty"`
	TrackingNumber string         `json:"trackingNumber,omitempty"`
	Cost           float64        `json:"cost"`
	Status         ShippingStatus `json:"status"`
	ShippedAt      *time.Time     `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
}

type Discount struct {
	Code      string       `json:"code"`
	Type      DiscountType `json:"type"`
	Value     float64      `json:"value"`
	Amount    float64      `json:"amount"`
	AppliedAt time.Time    `json:"appliedAt"`
}

type Item struct {
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	SalePrice float64 `json:"salePrice"`
	Quantity  int     `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
	Taxes     float64 `json:"taxes"`
	Discount  float64 `json:"discount"`
	Total     float64 `json:"total"`
	IsDigital bool    `json:"isDigital"`
	Weight    float64 `json:"weight"`
}

// EffectivePrice is the sale price when one is set, else the regular price.
func (i *Item) EffectivePrice() float64 {
	if i.SalePrice > 0 {
		return i.SalePrice
	}
	return i.Price
}

func (i *Item) recompute() {
	i.Subtotal = i.EffectivePrice() * float64(i.Quantity)
	i.Total = i.Subtotal + i.Taxes - i.Discount
}

type Order struct {
	ID              string            `json:"id"`
	OrderNumber     string            `json:"orderNumber"`
	UserID          string            `json:"userId"`
	Status          Status            `json:"status"`
	Items           []Item            `json:"items"`
	ShippingAddress Address           `json:"shippingAddress"`
	BillingAddress  Address           `json:"billingAddress"`
	Subtotal        float64           `json:"subtotal"`
	TaxAmount       float64           `json:"taxAmount"`
	DiscountAmount  float64           `json:"discountAmount"`
	ShippingAmount  float64           `json:"shippingAmount"`
	Total           float64           `json:"total"`
	Currency        string            `json:"currency"`
	Payment         Payment           `json:"payment"`
	Shipping        Shipping          `json:"shipping"`
	Discounts       []Discount        `json:"discounts,omitempty"`
	CustomerNotes   string            `json:"customerNotes,omitempty"`
	AdminNotes      string            `json:"adminNotes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CancelledAt     *time.Time        `json:"cancelledAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// New builds an order at checkout. Card payments start in payment_pending;
// everything else starts pending. The order number is generated here,
// exactly once.
func New(userID string, items []Item, shipAddr, billAddr Address, paymentMethod, currency string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	for i := range items {
		if items[i].Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
	}

	status := StatusPending
	if paymentMethod == "card" {
		status = StatusPaymentPending
	}
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	o := &Order{
		ID:              uuid.New().String(),
		OrderNumber:     NewOrderNumber(),
		UserID:          userID,
		Status:          status,
		Items:           items,
		ShippingAddress: shipAddr,
		BillingAddress:  billAddr,
		Currency:        currency,
		Payment: Payment{
			Method: paymentMethod,
			Status: PaymentPending,
		},
		Shipping:  Shipping{Status: ShippingPending},
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.RecalculateTotals()
	o.Payment.Amount = o.Total
	return o, nil
}

// Locked reports whether item and discount mutation is disallowed.
func (o *Order) Locked() bool {
	return lockedStatuses[o.Status]
}

// CanTransitionTo checks the transition graph.
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// RecalculateTotals recomputes every item's derived amounts and the order's
// monetary fields. It is idempotent: running it twice without an intervening
// mutation yields identical results. The cumulative discount is capped so
// the total never drops below zero.
func (o *Order) RecalculateTotals() {
	var subtotal, taxes float64
	for i := range o.Items {
		o.Items[i].recompute()
		subtotal += o.Items[i].Subtotal
		taxes += o.Items[i].Taxes
	}
	o.Subtotal = subtotal
	o.TaxAmount = taxes

	if limit := o.Subtotal + o.TaxAmount + o.ShippingAmount; o.DiscountAmount > limit {
		o.DiscountAmount = limit
	}
	o.Total = o.Subtotal + o.TaxAmount - o.DiscountAmount + o.ShippingAmount
}

// AddItem merges by product id: an existing line gets its quantity bumped,
// otherwise the item is appended. Totals are recomputed either way.
func (o *Order) AddItem(item Item) error {
	if o.Locked() {
		return ErrOrderLocked
	}
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}

	merged := false
	for i := range o.Items {
		if o.Items[i].ProductID == item.ProductID {
			o.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		o.Items = append(o.Items, item)
	}
	o.RecalculateTotals()
	o.touch()
	return nil
}

// RemoveItem deletes the line for a product and returns the quantity that
// was held by it.
func (o *Order) RemoveItem(productID string) (int, error) {
	if o.Locked() {
		return 0, ErrOrderLocked
	}
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			qty := o.Items[i].Quantity
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			o.RecalculateTotals()
			o.touch()
			return qty, nil
		}
	}
	return 0, ErrItemNotFound
}

// ApplyDiscount accumulates onto DiscountAmount; free-shipping additionally
// zeroes the shipping amount. Discounts stack with no cap beyond the
// total-floor clamp in RecalculateTotals.
func (o *Order) ApplyDiscount(code string, typ DiscountType, value float64) error {
	if o.Locked() {
		return ErrOrderLocked
	}

	var amount float64
	switch typ {
	case DiscountPercentage:
		amount = o.Subtotal * value / 100
	case DiscountFixed:
		amount = value
	case DiscountFreeShipping:
		amount = o.ShippingAmount
		o.ShippingAmount = 0
	default:
		return fmt.Errorf("unknown discount type %q", typ)
	}

	o.DiscountAmount += amount
	o.Discounts = append(o.Discounts, Discount{
		Code:      code,
		Type:      typ,
		Value:     value,
		Amount:    amount,
		AppliedAt: time.Now(),
	})
	o.RecalculateTotals()
	o.touch()
	return nil
}

// UpdateStatus moves the order along the transition graph and appends the
// audit note.
func (o *Order) UpdateStatus(target Status, note string) error {
	if !o.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, target)
	}
	prev := o.Status
	o.Status = target

	now := time.Now()
	switch target {
	case StatusCompleted:
		o.CompletedAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
	o.appendAudit(prev, target, note)
	o.touch()
	return nil
}

// UpdatePayment applies a payment record change. Settlement (completed)
// stamps paidAt and moves the order to paid.
func (o *Order) UpdatePayment(status PaymentStatus, transactionID string) error {
	o.Payment.Status = status
	if transactionID != "" {
		o.Payment.TransactionID = transactionID
	}

	if status == PaymentCompleted {
		now := time.Now()
		o.Payment.PaidAt = &now
		if o.Status != StatusPaid {
			if err := o.UpdateStatus(StatusPaid, "payment completed"); err != nil {
				return err
			}
		}
	}
	o.touch()
	return nil
}

// UpdateShipping applies a shipping record change. A shipped record stamps
// shippedAt and moves the order to shipped; delivered likewise.
func (o *Order) UpdateShipping(s Shipping) error {
	if s.Method != "" {
		o.Shipping.Method = s.Method
	}
	if s.Carrier != "" {
		o.Shipping.Carrier = s.Carrier
	}
	if s.TrackingNumber != "" {
		o.Shipping.TrackingNumber = s.TrackingNumber
	}
	if s.Cost > 0 {
		o.Shipping.Cost = s.Cost
		o.ShippingAmount = s.Cost
		o.RecalculateTotals()
	}
	if s.Status == "" {
		o.touch()
		return nil
	}

	o.Shipping.Status = s.Status
	now := time.Now()
	switch s.Status {
	case ShippingShipped:
		o.Shipping.ShippedAt = &now
		if o.Status != StatusShipped {
			if err := o.UpdateStatus(StatusShipped, "shipment dispatched"); err != nil {
				return err
			}
		}
	case ShippingDelivered:
		o.Shipping.DeliveredAt = &now
		if o.Status != StatusDelivered {
			if err := o.UpdateStatus(StatusDelivered, "shipment delivered"); err != nil {
				return err
			}
		}
	}
	o.touch()
	return nil
}

// CanBeCancelledBy implements the cancellation policy: admins (and the
// system principal) may cancel from any status; owners only while the order
// is pending or payment_pending.
func (o *Order) CanBeCancelledBy(p principal.Principal) bool {
	if p.IsAdmin() {
		return true
	}
	if !p.Owns(o.UserID) {
		return false
	}
	return o.Status == StatusPending || o.Status == StatusPaymentPending
}

// Cancel applies the cancellation policy, then transitions. Admins may
// override the graph for the otherwise-terminal delivered, completed and
// refunded states; only an already-cancelled order stays rejected.
func (o *Order) Cancel(p principal.Principal, note string) error {
	if o.Status == StatusCancelled {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}
	if !o.CanBeCancelledBy(p) {
		return ErrCancelNotAllowed
	}

	prev := o.Status
	now := time.Now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.appendAudit(prev, StatusCancelled, note)
	o.touch()
	return nil
}

// Refund requires a completed payment. A full refund (amount covering the
// total) sets the order refunded; a partial refund leaves the status alone
// and records an audit note.
func (o *Order) Refund(amount float64, note string) (full bool, err error) {
	if o.Payment.Status != PaymentCompleted {
		return false, ErrNotRefundable
	}
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	if amount >= o.Total {
		prev := o.Status
		o.Status = StatusRefunded
		o.Payment.Status = PaymentRefunded
		o.appendAudit(prev, StatusRefunded, note)
		o.touch()
		return true, nil
	}

	o.AdminNotes += fmt.Sprintf("%s partial refund %.2f %s: %s\n",
		time.Now().Format(time.RFC3339), amount, o.Currency, note)
	o.touch()
	return false, nil
}

// FlagItems marks the order's lines for a product, e.g. after the product
// was deleted upstream. Totals are deliberately left untouched.
func (o *Order) FlagItems(productID, flag string) bool {
	found := false
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			found = true
		}
	}
	if found {
		if o.Metadata == nil {
			o.Metadata = map[string]string{}
		}
		o.Metadata["item:"+productID] = flag
		o.touch()
	}
	return found
}

func (o *Order) appendAudit(from, to Status, note string) {
	line := fmt.Sprintf("%s %s -> %s", time.Now().Format(time.RFC3339), from, to)
	if note != "" {
		line += ": " + note
	}
	o.AdminNotes += line + "\n"
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now()
}
