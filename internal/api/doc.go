// Package api hosts the HTTP surface of the crawler. Routes:
//   - POST /v1/crawl runs a crawl; ?async=true queues it and returns 202.
//   - POST /v1/enrich runs an enrichment pass.
//   - GET /v1/logs?jobId=&lastTs=&limit= polls a job log after a cursor.
//   - GET /healthz and /readyz for health checks, GET /metrics for Prometheus.
package api
