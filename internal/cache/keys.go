package cache

// KeyProduct is the cache key for a single catalog product.
func KeyProduct(id string) string { return "catalog:product:" + id }

// KeyProductSKU maps a barcode to its product.
func KeyProductSKU(sku string) string { return "catalog:sku:" + sku }

// KeyLoyaltyCount caches a customer's completed purchase count.
func KeyLoyaltyCount(customerID string) string { return "loyalty:count:" + customerID }
