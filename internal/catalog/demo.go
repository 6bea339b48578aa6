package catalog

import "commerce-service/internal/model"

func price(v float64) *float64 { return &v }

// DemoCatalog is the product set installed by the seed command
func DemoCatalog() []model.Product {
	return []model.Product{
		{Name: "iPhone", Price: 5999, Stock: 50, Description: "Apple smartphone", ImageURL: "/images/iphone.jpg"},
		{Name: "Xiaomi Phone", Price: 1999, Stock: 120, OnSale: true, DiscountPrice: price(1799), Description: "Android smartphone", ImageURL: "/images/xiaomi.jpg"},
		{Name: "Huawei Mate", Price: 4999, Stock: 80, Description: "Flagship smartphone", ImageURL: "/images/mate.jpg"},
		{Name: "Lenovo Laptop", Price: 6999, Stock: 30, OnSale: true, DiscountPrice: price(6299), Description: "14 inch business laptop", ImageURL: "/images/lenovo.jpg"},
		{Name: "Wireless Mouse", Price: 99, Stock: 500, Description: "2.4G wireless mouse", ImageURL: "/images/mouse.jpg"},
		{Name: "Mechanical Keyboard", Price: 399, Stock: 200, OnSale: true, DiscountPrice: price(299), Description: "87 key mechanical keyboard", ImageURL: "/images/keyboard.jpg"},
	}
}
