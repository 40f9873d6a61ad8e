package factories

import (
	"math/rand"

	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/lucsky/cuid"
)

type OrderItemFactory struct{}

// CreateOrderItem returns a line item priced in minor units.
func (f *OrderItemFactory) CreateOrderItem() models.OrderItem {
	return models.OrderItem{
		ProductID: cuid.New(),
		Name:      generateRandomItemName(),
		Quantity:  fake.IntBetween(1, 3),
		Price:     models.Money(fake.IntBetween(5, 60) * 100),
	}
}

func generateRandomItemName() string {
	items := [][]string{
		{"Margherita", "Pepperoni", "Hawaiian", "Veggie Supreme"},
		{"Chicken Tikka Masala", "Vegetable Curry", "Naan Bread", "Biryani"},
		{"Classic Cheeseburger", "Veggie Burger", "BBQ Bacon Burger"},
		{"Caesar Salad", "Greek Salad", "Quinoa Salad"},
		{"Pad Thai", "Green Curry", "Tom Yum Soup", "Mango Sticky Rice"},
		{"Tacos", "Burrito", "Guacamole", "Quesadilla"},
	}
	group := items[rand.Intn(len(items))]
	return group[rand.Intn(len(group))]
}
