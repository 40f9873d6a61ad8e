package factories

import (
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/lucsky/cuid"
)

type OrderFactory struct {
	items OrderItemFactory
}

// CreateOrder returns an unclaimed order as the service would list it. The
// total is the exact minor-unit sum of its items.
func (f *OrderFactory) CreateOrder(paymentType models.PaymentType) models.Order {
	count := fake.IntBetween(1, 4)
	items := make([]models.OrderItem, count)
	var total models.Money
	for i := range items {
		items[i] = f.items.CreateOrderItem()
		total += items[i].Price * models.Money(items[i].Quantity)
	}

	addr := fake.Address()
	return models.Order{
		ID:           cuid.New(),
		RemoteStatus: models.RemoteStatusPending,
		CustomerID:   cuid.New(),
		StoreID:      cuid.New(),
		Items:        items,
		ShippingAddress: models.Address{
			Name:      fake.Person().Name(),
			Phone:     fake.Phone().Number(),
			HouseNo:   addr.BuildingNumber(),
			Address1:  addr.StreetAddress(),
			Address2:  addr.SecondaryAddress(),
			City:      addr.City(),
			Postcode:  addr.PostCode(),
			Latitude:  addr.Latitude(),
			Longitude: addr.Longitude(),
		},
		PaymentType: paymentType,
		TotalAmount: total,
		Status:      models.OrderStateUnclaimed,
	}
}

// CreateOrderWithTotal pins the total, e.g. to exercise display rounding.
func (f *OrderFactory) CreateOrderWithTotal(paymentType models.PaymentType, total models.Money) models.Order {
	o := f.CreateOrder(paymentType)
	o.TotalAmount = total
	return o
}

// CreateOTP returns a code of the given length.
func CreateOTP(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte('0' + fake.IntBetween(0, 9))
	}
	return string(b)
}
