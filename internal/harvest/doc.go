// Package harvest contains the hybrid harvesting engine: the record model,
// the API-discovery listener, the scroll and API-pagination strategies, and
// the vote normalizer. Browser automation, HTTP fetching and markup rendering
// are consumed through the interfaces in interfaces.go so the engine never
// depends on a concrete driver.
package harvest
