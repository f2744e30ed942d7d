// Package crawler implements the wave-based crawl engine used to discover
// menu content on a restaurant website: the Frontier that tracks visited
// URLs, document links and relevant pages, the Engine that fans crawl tasks
// out over a bounded worker pool, and the link helpers that classify
// discovered references.
package crawler
