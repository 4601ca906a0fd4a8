// Package enrich joins reference data (stores, products, suppliers) into
// fetched list rows, so a purchase row carrying "storeId" also carries the
// store's display name.
//
// Reference lists are loaded through a Source. CachedSource keeps them in an
// in-process LRU, coalesces concurrent loads and can share them between
// processes through Redis. Search results themselves are never stored there.
package enrich
