// Package catalog defines the item model, the error taxonomy, and the collaborator
// interfaces shared by the crawl pipeline, the enrichment pass, and their backends.
package catalog
