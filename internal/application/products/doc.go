// Package products consumes the statistics published on the bus and turns
// them into stored products.
package products
